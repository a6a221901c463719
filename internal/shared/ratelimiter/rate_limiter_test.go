package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestRegistry_Rate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]int{"yahoo": 1, "eastmoney": 2, "broken": 0}, noSleep)

	assert.Equal(t, 1, r.Rate("yahoo"))
	assert.Equal(t, 2, r.Rate("eastmoney"))
	assert.Equal(t, defaultCallsPerSecond, r.Rate("broken"), "non-positive rate falls back to default")
	assert.Equal(t, defaultCallsPerSecond, r.Rate("unknown"))
	assert.Equal(t, 500*time.Millisecond, r.Interval("eastmoney"))
}

func TestRegistry_AcquireBoundsConcurrency(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]int{"eastmoney": 2}, noSleep)

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := r.Acquire(context.Background(), "eastmoney")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer p.Release()

			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2), "more permits in use than the pool size")
}

func TestRegistry_PoolIsSharedPerProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]int{"yahoo": 1}, noSleep)

	p, err := r.Acquire(context.Background(), "yahoo")
	require.NoError(t, err)

	// 同じプロバイダーのプールは埋まっているので待機し、タイムアウトする
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, "yahoo")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "expected deadline exceeded, got %v", err)

	// 別プロバイダーは影響を受けない
	other, err := r.Acquire(context.Background(), "eastmoney")
	require.NoError(t, err)
	other.Release()

	p.Release()
	p.Release() // 二重解放しても安全

	again, err := r.Acquire(context.Background(), "yahoo")
	require.NoError(t, err)
	again.Release()
}

func TestRegistry_Pace(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	r := NewRegistry(map[string]int{"eastmoney": 4}, func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	require.NoError(t, r.Pace(context.Background(), "eastmoney"))
	require.Len(t, slept, 1)
	assert.Equal(t, 250*time.Millisecond, slept[0])
}
