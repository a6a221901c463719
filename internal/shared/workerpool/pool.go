// Package workerpool はバックグラウンドジョブを固定数のワーカーで実行します。
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrPoolFull はキューに空きがない場合に Submit が返します。
	ErrPoolFull = errors.New("worker pool queue is full")
	// ErrPoolClosed は Shutdown 後に Submit された場合に返されます。
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Job はワーカーで実行される 1 単位の処理です。
type Job func(ctx context.Context) error

// Future は投入したジョブの完了を通知します。
type Future struct {
	done chan struct{}
	err  error
}

// Done はジョブ完了時にクローズされるチャネルを返します。
func (f *Future) Done() <-chan struct{} { return f.done }

// Err はジョブの結果を返します。完了前は nil です。
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Finished はジョブが完了していれば true を返します。
func (f *Future) Finished() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait はジョブの完了か ctx のキャンセルまで待機します。
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type item struct {
	job    Job
	future *Future
}

// Pool は固定数のワーカーでジョブを処理します。
type Pool struct {
	queue  chan item
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New は size 個のワーカーと queueSize 件のキューを持つ Pool を生成し、ワーカーを起動します。
func New(size, queueSize int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan item, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case it, ok := <-p.queue:
			if !ok {
				return
			}
			it.future.err = p.run(it.job)
			close(it.future.done)
		}
	}
}

// run はジョブを実行し、panic をエラーに変換します。
func (p *Pool) run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(p.ctx)
}

// Submit はジョブをキューに投入し、完了を待つための Future を返します。
// 呼び出し元はジョブの完了を待たずに戻ります。
func (p *Pool) Submit(job Job) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	f := &Future{done: make(chan struct{})}
	// 空きワーカーがあれば受け取られるまで待たずに渡す
	select {
	case p.queue <- item{job: job, future: f}:
		return f, nil
	default:
		return nil, ErrPoolFull
	}
}

// Shutdown は新規投入を止め、ジョブのコンテキストをキャンセルして全ワーカーの終了を待ちます。
// キューに残っていたジョブは実行されず、その Future は context.Canceled で完了します。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case it := <-p.queue:
			it.future.err = context.Canceled
			close(it.future.done)
		default:
			return nil
		}
	}
}
