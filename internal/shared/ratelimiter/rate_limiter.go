// Package ratelimiter はデータプロバイダーごとの同時実行数と呼び出し間隔を制限します。
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"stock_agent/internal/shared/retry"
)

// defaultCallsPerSecond は設定にないプロバイダーに適用される上限です。
const defaultCallsPerSecond = 1

// Limiter は BatchFetcher が利用するレートリミッターのインターフェースです。
type Limiter interface {
	Acquire(ctx context.Context, provider string) (*Permit, error)
	Pace(ctx context.Context, provider string) error
}

// Registry はプロバイダー名をキーとした許可プールの集合です。
// プロセス内で 1 つだけ生成し、同じプロバイダーを使う全タスクで共有します。
type Registry struct {
	mu    sync.Mutex
	rates map[string]int
	pools map[string]*semaphore.Weighted
	sleep retry.Sleeper
}

var _ Limiter = (*Registry)(nil)

// NewRegistry は 1 秒あたりの呼び出し回数をプロバイダーごとに受け取り Registry を生成します。
// sleep が nil の場合は retry.Sleep を使います。
func NewRegistry(callsPerSecond map[string]int, sleep retry.Sleeper) *Registry {
	rates := make(map[string]int, len(callsPerSecond))
	for name, rate := range callsPerSecond {
		if rate < 1 {
			rate = defaultCallsPerSecond
		}
		rates[name] = rate
	}
	if sleep == nil {
		sleep = retry.Sleep
	}
	return &Registry{
		rates: rates,
		pools: make(map[string]*semaphore.Weighted),
		sleep: sleep,
	}
}

// Rate はプロバイダーの 1 秒あたりの呼び出し上限を返します。
func (r *Registry) Rate(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rateLocked(provider)
}

func (r *Registry) rateLocked(provider string) int {
	if rate, ok := r.rates[provider]; ok {
		return rate
	}
	return defaultCallsPerSecond
}

// pool はプロバイダーの許可プールを返します。初回呼び出し時に生成します。
func (r *Registry) pool(provider string) *semaphore.Weighted {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[provider]
	if !ok {
		p = semaphore.NewWeighted(int64(r.rateLocked(provider)))
		r.pools[provider] = p
	}
	return p
}

// Acquire はプロバイダーの許可を 1 つ取得します。プールが埋まっている場合は
// 先着順に待機し、ctx がキャンセルされたらエラーを返します。
func (r *Registry) Acquire(ctx context.Context, provider string) (*Permit, error) {
	p := r.pool(provider)
	if err := p.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s permit: %w", provider, err)
	}
	return &Permit{provider: provider, release: func() { p.Release(1) }}, nil
}

// Interval は 1 回の呼び出しの後に空ける最小間隔 1/rate 秒を返します。
func (r *Registry) Interval(provider string) time.Duration {
	return time.Second / time.Duration(r.Rate(provider))
}

// Pace は 1/rate 秒だけ待機します。
// 同時実行数だけでは低いレート上限での持続的な呼び出し速度を抑えられないため、
// 各取得処理の後に呼び出します。
func (r *Registry) Pace(ctx context.Context, provider string) error {
	d := r.Interval(provider)
	slog.Debug("pacing provider calls", "provider", provider, "sleep", d)
	return r.sleep(ctx, d)
}

// Permit は Acquire で取得した許可です。Release は複数回呼んでも安全です。
type Permit struct {
	provider string
	once     sync.Once
	release  func()
}

// Release は許可をプールに返却します。
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}
