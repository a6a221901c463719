package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_SubmitAndWait(t *testing.T) {
	t.Parallel()

	p := New(2, 4)
	defer func() { _ = p.Shutdown(context.Background()) }()

	errJob := errors.New("job failed")
	ok, err := p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	bad, err := p.Submit(func(ctx context.Context) error { return errJob })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.NoError(t, ok.Wait(ctx))
	assert.ErrorIs(t, bad.Wait(ctx), errJob)
	assert.True(t, bad.Finished())
	assert.ErrorIs(t, bad.Err(), errJob)
}

func TestPool_RecoversPanic(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	defer func() { _ = p.Shutdown(context.Background()) }()

	f, err := p.Submit(func(ctx context.Context) error { panic("boom") })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = f.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// ワーカーは panic 後も動き続ける
	next, err := p.Submit(func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.NoError(t, next.Wait(ctx))
}

func TestPool_FullQueue(t *testing.T) {
	t.Parallel()

	p := New(1, 0)
	defer func() { _ = p.Shutdown(context.Background()) }()

	release := make(chan struct{})
	started := make(chan struct{})
	var blockingSubmitted bool
	// 受け取り待ちのワーカーが現れるまで投入を繰り返す
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := p.Submit(func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
		if err == nil {
			blockingSubmitted = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, blockingSubmitted)
	<-started

	_, err := p.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolFull)
	close(release)
}

func TestPool_ShutdownCancelsRunningJobs(t *testing.T) {
	t.Parallel()

	p := New(1, 1)
	var cancelled atomic.Bool
	started := make(chan struct{})

	f, err := p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.True(t, cancelled.Load())
	assert.ErrorIs(t, f.Err(), context.Canceled)

	_, err = p.Submit(func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
