package redis

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"stock_agent/internal/config"
)

// NewRedisClient は設定から Redis クライアントを生成し、接続を確認します。
func NewRedisClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	addr := cfg.Addr()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 接続確認
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Redis connection failed", "address", addr, "error", err)
		_ = rdb.Close()
		return nil, err
	}

	slog.Info("Redis connection successful", "address", addr)
	return rdb, nil
}
