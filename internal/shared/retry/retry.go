// Package retry は指数バックオフ付きの再試行処理を提供します。
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Sleeper は指定時間だけ待機します。ctx がキャンセルされた場合は ctx.Err() を返します。
// テストでは実時間を消費しない実装に差し替えます。
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep はデフォルトの Sleeper 実装です。
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy は再試行の回数と待機時間を定義します。
type Policy struct {
	MaxRetries int           // 試行回数の上限（初回を含む）
	BaseDelay  time.Duration // 初回失敗後の待機時間。以降は 2 倍ずつ増える
	Sleep      Sleeper       // nil の場合は Sleep を使う
}

// Delay は attempt 回目（0 始まり）の失敗後に待機する時間 baseDelay * 2^attempt を返します。
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<uint(attempt))
}

// WithBackoff は op を最大 MaxRetries 回実行します。
// 失敗するたびに BaseDelay * 2^attempt だけ待機し、最後の試行のエラーを呼び出し元に返します。
// エラーは握りつぶさず、%w でラップして返すため errors.Is で判別できます。
func WithBackoff[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxRetries := p.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		// 最後の試行の後は待機しない
		if attempt == maxRetries-1 {
			break
		}
		delay := p.Delay(attempt)
		slog.Warn("attempt failed, retrying",
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry aborted after %d attempts: %w", attempt+1, err)
		}
	}
	return zero, fmt.Errorf("giving up after %d attempts: %w", maxRetries, lastErr)
}
