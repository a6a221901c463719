package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	priceentity "stock_agent/internal/feature/prices/domain/entity"
	pricesusecase "stock_agent/internal/feature/prices/usecase"
	symbolsusecase "stock_agent/internal/feature/symbols/usecase"
	taskentity "stock_agent/internal/feature/tasks/domain/entity"
	tasksusecase "stock_agent/internal/feature/tasks/usecase"
	"stock_agent/internal/shared/market"
)

type mockResolver struct {
	ResolveSymbolsFunc func(ctx context.Context, m market.Market, mode symbolsusecase.Mode) ([]string, error)
}

func (r *mockResolver) ResolveSymbols(ctx context.Context, m market.Market, mode symbolsusecase.Mode) ([]string, error) {
	return r.ResolveSymbolsFunc(ctx, m, mode)
}

type mockFetcher struct {
	FetchBatchFunc func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error)
	Size           int
	Batches        [][]string
}

func (f *mockFetcher) FetchBatch(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error) {
	f.Batches = append(f.Batches, symbols)
	return f.FetchBatchFunc(ctx, m, symbols, start)
}

func (f *mockFetcher) BatchSize(market.Market) int { return f.Size }

// passProcessor returns its input unchanged.
type passProcessor struct{}

func (passProcessor) Process(raw []priceentity.Bar) ([]priceentity.Bar, []string) { return raw, nil }

type mockPriceWriter struct {
	UpsertBarsFunc func(ctx context.Context, m market.Market, symbol string, bars []priceentity.Bar) error
	Saved          []string
}

func (w *mockPriceWriter) UpsertBars(ctx context.Context, m market.Market, symbol string, bars []priceentity.Bar) error {
	if w.UpsertBarsFunc != nil {
		if err := w.UpsertBarsFunc(ctx, m, symbol, bars); err != nil {
			return err
		}
	}
	w.Saved = append(w.Saved, symbol)
	return nil
}

type mockTracker struct {
	Total     int
	Processed int
	Failed    int
	Finalized bool

	// IncrementErrs は IncrementCounters の呼び出し順に返すエラーです。
	IncrementErrs  []error
	IncrementCalls int
}

func (t *mockTracker) MarkRunning(ctx context.Context, id int64, total int) error {
	t.Total = total
	return nil
}

func (t *mockTracker) IncrementCounters(ctx context.Context, id int64, processed, failed int) error {
	call := t.IncrementCalls
	t.IncrementCalls++
	if call < len(t.IncrementErrs) && t.IncrementErrs[call] != nil {
		return t.IncrementErrs[call]
	}
	t.Processed += processed
	t.Failed += failed
	return nil
}

func (t *mockTracker) Finalize(ctx context.Context, id int64) error {
	t.Finalized = true
	return nil
}

type mockResume struct {
	mu        sync.Mutex
	Failures  map[string]string
	Successes []string
}

func (r *mockResume) RecordFailure(m market.Market, symbol, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Failures == nil {
		r.Failures = map[string]string{}
	}
	r.Failures[symbol] = reason
	return nil
}

func (r *mockResume) RecordSuccess(m market.Market, symbols ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Successes = append(r.Successes, symbols...)
	return nil
}

func symbolsN(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("S%02d", i)
	}
	return out
}

type runnerFixture struct {
	fetcher *mockFetcher
	prices  *mockPriceWriter
	tracker *mockTracker
	resume  *mockResume
	sleeps  []time.Duration
	runner  *DownloadRunner
}

func newRunnerFixture(symbols []string, fetch func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error)) *runnerFixture {
	f := &runnerFixture{
		fetcher: &mockFetcher{FetchBatchFunc: fetch, Size: 4},
		prices:  &mockPriceWriter{},
		tracker: &mockTracker{},
		resume:  &mockResume{},
	}
	resolver := &mockResolver{
		ResolveSymbolsFunc: func(ctx context.Context, m market.Market, mode symbolsusecase.Mode) ([]string, error) {
			return symbols, nil
		},
	}
	f.runner = NewDownloadRunner(resolver, f.fetcher, passProcessor{}, f.prices, f.tracker, f.resume, RunnerConfig{
		Start:      startDate,
		BatchDelay: time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return ctx.Err()
		},
	})
	return f
}

func TestDownloadRunner_Run_PartialOutcome(t *testing.T) {
	failing := map[string]bool{"S01": true, "S05": true, "S09": true}

	f := newRunnerFixture(symbolsN(10), func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error) {
		out := map[string][]priceentity.Bar{}
		failures := map[string]error{}
		for _, s := range symbols {
			if failing[s] {
				failures[s] = errProvider
				continue
			}
			out[s] = oneBar(s)
		}
		if len(failures) > 0 {
			return out, &BatchError{Failures: failures}
		}
		return out, nil
	})

	err := f.runner.Run(context.Background(), taskentity.Job{TaskID: 1, Market: market.US})
	require.NoError(t, err)

	assert.Equal(t, 10, f.tracker.Total)
	assert.Equal(t, 7, f.tracker.Processed)
	assert.Equal(t, 3, f.tracker.Failed)
	assert.True(t, f.tracker.Finalized)

	assert.Len(t, f.fetcher.Batches, 3)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeps, "delay only between batches")

	assert.Len(t, f.prices.Saved, 7)
	assert.Len(t, f.resume.Successes, 7)
	assert.Len(t, f.resume.Failures, 3)
	assert.Contains(t, f.resume.Failures["S05"], reasonFetchFailed)
}

func TestDownloadRunner_Run_EmptyAndSaveFailures(t *testing.T) {
	f := newRunnerFixture([]string{"AAPL", "MSFT", "EMPTY"}, func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error) {
		return map[string][]priceentity.Bar{"AAPL": oneBar("AAPL"), "MSFT": oneBar("MSFT"), "EMPTY": {}}, nil
	})
	f.prices.UpsertBarsFunc = func(ctx context.Context, m market.Market, symbol string, bars []priceentity.Bar) error {
		if symbol == "MSFT" {
			return errors.New("connection reset")
		}
		return nil
	}

	require.NoError(t, f.runner.Run(context.Background(), taskentity.Job{TaskID: 2, Market: market.US}))

	assert.Equal(t, 1, f.tracker.Processed)
	assert.Equal(t, 2, f.tracker.Failed)
	assert.Equal(t, []string{"AAPL"}, f.prices.Saved)
	assert.Contains(t, f.resume.Failures["MSFT"], reasonSaveFailed)
	assert.Contains(t, f.resume.Failures["EMPTY"], reasonNoData)
}

func TestDownloadRunner_Run_BarsWithoutClose(t *testing.T) {
	f := newRunnerFixture([]string{"AAPL", "X"}, func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error) {
		return map[string][]priceentity.Bar{
			"AAPL": oneBar("AAPL"),
			"X":    {{Symbol: "X", Date: time.Date(2024, 1, 2, 15, 30, 0, 0, time.UTC), Open: priceentity.Float(1.23456)}},
		}, nil
	})
	f.runner.processor = pricesusecase.NewBarProcessor()

	require.NoError(t, f.runner.Run(context.Background(), taskentity.Job{TaskID: 7, Market: market.US}))

	assert.Equal(t, []string{"AAPL"}, f.prices.Saved)
	assert.Equal(t, 1, f.tracker.Processed)
	assert.Equal(t, 1, f.tracker.Failed)
	assert.Contains(t, f.resume.Failures["X"], reasonNoData)
}

func TestDownloadRunner_Run_ProgressRecording(t *testing.T) {
	ok := func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error) {
		out := map[string][]priceentity.Bar{}
		for _, s := range symbols {
			out[s] = oneBar(s)
		}
		return out, nil
	}

	t.Run("transient failure is carried to the next batch", func(t *testing.T) {
		f := newRunnerFixture(symbolsN(10), ok)
		f.tracker.IncrementErrs = []error{errors.New("database is locked")}

		require.NoError(t, f.runner.Run(context.Background(), taskentity.Job{TaskID: 8, Market: market.US}))

		assert.Equal(t, 10, f.tracker.Processed)
		assert.Zero(t, f.tracker.Failed)
		assert.True(t, f.tracker.Finalized)
	})

	t.Run("unrecorded progress blocks finalize", func(t *testing.T) {
		f := newRunnerFixture(symbolsN(4), ok)
		dbDown := errors.New("connection refused")
		f.tracker.IncrementErrs = []error{dbDown, dbDown}

		err := f.runner.Run(context.Background(), taskentity.Job{TaskID: 9, Market: market.US})
		assert.ErrorIs(t, err, dbDown)
		assert.False(t, f.tracker.Finalized)
	})

	t.Run("reclaimed task stops the run", func(t *testing.T) {
		f := newRunnerFixture(symbolsN(10), ok)
		f.tracker.IncrementErrs = []error{fmt.Errorf("update task 10: %w", tasksusecase.ErrTaskNotActive)}

		err := f.runner.Run(context.Background(), taskentity.Job{TaskID: 10, Market: market.US})
		assert.ErrorIs(t, err, tasksusecase.ErrTaskNotActive)
		assert.Len(t, f.fetcher.Batches, 1)
		assert.False(t, f.tracker.Finalized)
	})
}

func TestDownloadRunner_Run_NoSymbols(t *testing.T) {
	f := newRunnerFixture(nil, nil)

	require.NoError(t, f.runner.Run(context.Background(), taskentity.Job{TaskID: 3, Market: market.CN}))

	assert.Zero(t, f.tracker.Total)
	assert.True(t, f.tracker.Finalized)
	assert.Empty(t, f.fetcher.Batches)
}

func TestDownloadRunner_Run_FatalErrors(t *testing.T) {
	t.Run("resolve fails", func(t *testing.T) {
		f := newRunnerFixture(nil, nil)
		f.runner.resolver = &mockResolver{
			ResolveSymbolsFunc: func(ctx context.Context, m market.Market, mode symbolsusecase.Mode) ([]string, error) {
				return nil, errProvider
			},
		}

		err := f.runner.Run(context.Background(), taskentity.Job{TaskID: 4, Market: market.US})
		assert.ErrorIs(t, err, errProvider)
		assert.False(t, f.tracker.Finalized)
	})

	t.Run("unknown mode", func(t *testing.T) {
		f := newRunnerFixture(nil, nil)

		err := f.runner.Run(context.Background(), taskentity.Job{TaskID: 5, Market: market.US, Mode: "rewind"})
		assert.ErrorIs(t, err, symbolsusecase.ErrUnknownMode)
	})

	t.Run("fetch aborted", func(t *testing.T) {
		f := newRunnerFixture(symbolsN(2), func(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error) {
			return nil, context.Canceled
		})

		err := f.runner.Run(context.Background(), taskentity.Job{TaskID: 6, Market: market.US})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, f.tracker.Finalized)
	})
}

func TestChunk(t *testing.T) {
	t.Parallel()

	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a"}, {"b"}}, chunk([]string{"a", "b"}, 0))
	assert.Empty(t, chunk(nil, 3))
}
