// Package cache provides caching implementations for repository interfaces.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"stock_agent/internal/feature/prices/domain/entity"
	"stock_agent/internal/feature/prices/usecase"
	"stock_agent/internal/shared/market"
)

// CachingBarRepository decorates a PriceRepository with Redis caching.
// Reads are cached per (market, symbol, limit) and every write for a symbol
// drops that symbol's cached reads.
type CachingBarRepository struct {
	inner     usecase.PriceRepository
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	// untilRefresh は次回の定期取得までの時間を返します。ttl より短ければそちらを使います。
	untilRefresh func() time.Duration
}

var _ usecase.PriceRepository = (*CachingBarRepository)(nil)

// NewCachingBarRepository decorates a PriceRepository with Redis caching.
// If ttl is 0, it defaults to 5 minutes. If namespace is empty, it uses "bars".
func NewCachingBarRepository(rdb *redis.Client, ttl time.Duration, inner usecase.PriceRepository, namespace string) *CachingBarRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if namespace == "" {
		namespace = "bars"
	}
	return &CachingBarRepository{
		inner:     inner,
		rdb:       rdb,
		ttl:       ttl,
		namespace: namespace,
	}
}

// WithRefreshDeadline caps cache entries so they expire no later than the next scheduled refresh.
func (c *CachingBarRepository) WithRefreshDeadline(until func() time.Duration) *CachingBarRepository {
	c.untilRefresh = until
	return c
}

// UpsertBars writes bars and invalidates the symbol's cache entries.
func (c *CachingBarRepository) UpsertBars(ctx context.Context, m market.Market, symbol string, bars []entity.Bar) error {
	if err := c.inner.UpsertBars(ctx, m, symbol, bars); err != nil {
		return err
	}
	if c.rdb == nil || len(bars) == 0 {
		return nil
	}
	_ = c.deleteByPattern(ctx, c.cacheKeyPrefix(m, symbol)+"*") // Best effort
	return nil
}

// FindBars retrieves bars, checking cache first then falling back to the database.
func (c *CachingBarRepository) FindBars(ctx context.Context, m market.Market, symbol string, limit int) ([]entity.Bar, error) {
	if c.rdb == nil {
		return c.inner.FindBars(ctx, m, symbol, limit)
	}

	key := c.cacheKey(m, symbol, limit)

	// 1) Check cache
	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var out []entity.Bar
		if err := json.Unmarshal(b, &out); err == nil {
			return out, nil
		}
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, key).Err()
	}

	// 2) Fallback to database
	out, err := c.inner.FindBars(ctx, m, symbol, limit)
	if err != nil {
		return nil, err
	}

	// 3) Store in cache (best effort)
	if b, err := json.Marshal(out); err == nil {
		_ = c.rdb.Set(ctx, key, b, c.expiry()).Err()
	}

	return out, nil
}

func (c *CachingBarRepository) expiry() time.Duration {
	if c.untilRefresh == nil {
		return c.ttl
	}
	if d := c.untilRefresh(); d > 0 && d < c.ttl {
		return d
	}
	return c.ttl
}

func (c *CachingBarRepository) cacheKey(m market.Market, symbol string, limit int) string {
	return fmt.Sprintf("%s%d", c.cacheKeyPrefix(m, symbol), limit)
}

func (c *CachingBarRepository) cacheKeyPrefix(m market.Market, symbol string) string {
	return fmt.Sprintf("%s:%s:%s:", c.namespace, safe(string(m)), safe(symbol))
}

// deleteByPattern deletes all cache keys matching a given pattern using SCAN.
func (c *CachingBarRepository) deleteByPattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	return nil
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
