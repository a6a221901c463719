// Package usecase は日足の一括取得とダウンロード実行のビジネスロジックを実装します。
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stock_agent/internal/feature/prices/domain/entity"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/ratelimiter"
	"stock_agent/internal/shared/retry"
)

// FetchShape はバッチ内の銘柄をどのように取得するかを表します。
type FetchShape string

const (
	// Vectorized は 1 回の呼び出しでバッチ全体を取得します。
	Vectorized FetchShape = "vectorized"
	// PerSymbol は銘柄ごとに並行して取得します。
	PerSymbol FetchShape = "per_symbol"
)

// HistoryProvider は外部プロバイダーの日足取得機能です。
// Goの慣例に従い、インターフェースは利用者（usecase）側で定義します。
type HistoryProvider interface {
	Name() string
	FetchHistory(ctx context.Context, symbols []string, start time.Time) (map[string][]entity.Bar, error)
}

// Route は市場ごとの取得元と取得方式です。
type Route struct {
	Provider  HistoryProvider
	Shape     FetchShape
	BatchSize int
}

// BatchFetcher はレート制限と再試行を伴って 1 バッチ分の日足を取得します。
type BatchFetcher struct {
	limiter ratelimiter.Limiter
	policy  retry.Policy
	routes  map[market.Market]Route
}

// NewBatchFetcher は BatchFetcher を生成します。
func NewBatchFetcher(limiter ratelimiter.Limiter, policy retry.Policy, routes map[market.Market]Route) *BatchFetcher {
	return &BatchFetcher{limiter: limiter, policy: policy, routes: routes}
}

// BatchSize は市場 m の 1 バッチあたりの銘柄数を返します。未設定の場合は 1 です。
func (f *BatchFetcher) BatchSize(m market.Market) int {
	if r, ok := f.routes[m]; ok && r.BatchSize > 0 {
		return r.BatchSize
	}
	return 1
}

// FetchBatch は symbols の start 以降の日足を取得します。
//
// 一部の銘柄だけが失敗した場合は成功分の結果とともに *BatchError を返します。
// ctx のキャンセルなど、バッチ単位で続行できないエラーはそのまま返します。
func (f *BatchFetcher) FetchBatch(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]entity.Bar, error) {
	route, ok := f.routes[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, m)
	}
	if len(symbols) == 0 {
		return map[string][]entity.Bar{}, nil
	}

	var (
		results  map[string][]entity.Bar
		failures map[string]error
	)
	switch route.Shape {
	case PerSymbol:
		results, failures = f.fetchPerSymbol(ctx, route.Provider, symbols, start)
	default:
		results, failures = f.fetchVectorized(ctx, route.Provider, symbols, start)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		return results, &BatchError{Failures: failures}
	}
	return results, nil
}

// fetchVectorized はバッチ全体を 1 つの許可で取得し、失敗時はバッチ全体を再試行します。
func (f *BatchFetcher) fetchVectorized(ctx context.Context, p HistoryProvider, symbols []string, start time.Time) (map[string][]entity.Bar, map[string]error) {
	got, err := retry.WithBackoff(ctx, f.policy, func(ctx context.Context) (map[string][]entity.Bar, error) {
		return f.fetchOnce(ctx, p, symbols, start)
	})

	failures := make(map[string]error)
	if err != nil {
		for _, s := range symbols {
			failures[s] = err
		}
		return nil, failures
	}

	results := make(map[string][]entity.Bar, len(symbols))
	for _, s := range symbols {
		if bars := got[s]; len(bars) > 0 {
			results[s] = bars
			continue
		}
		failures[s] = ErrNoData
	}
	return results, failures
}

// fetchPerSymbol は銘柄ごとに goroutine を起動し、それぞれ独立して再試行します。
// 同時実行数はプロバイダーの許可プールで制限されます。
func (f *BatchFetcher) fetchPerSymbol(ctx context.Context, p HistoryProvider, symbols []string, start time.Time) (map[string][]entity.Bar, map[string]error) {
	var (
		mu       sync.Mutex
		results  = make(map[string][]entity.Bar, len(symbols))
		failures = make(map[string]error)
	)

	var g errgroup.Group
	for _, s := range symbols {
		s := s
		g.Go(func() error {
			got, err := retry.WithBackoff(ctx, f.policy, func(ctx context.Context) (map[string][]entity.Bar, error) {
				return f.fetchOnce(ctx, p, []string{s}, start)
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures[s] = err
			case len(got[s]) == 0:
				failures[s] = ErrNoData
			default:
				results[s] = got[s]
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, failures
}

// fetchOnce は許可を取得して 1 回呼び出し、呼び出し間隔を空けてから許可を返却します。
func (f *BatchFetcher) fetchOnce(ctx context.Context, p HistoryProvider, symbols []string, start time.Time) (map[string][]entity.Bar, error) {
	permit, err := f.limiter.Acquire(ctx, p.Name())
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	got, err := p.FetchHistory(ctx, symbols, start)
	if perr := f.limiter.Pace(ctx, p.Name()); perr != nil && err == nil {
		err = perr
	}
	return got, err
}
