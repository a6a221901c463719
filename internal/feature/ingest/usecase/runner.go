package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	priceentity "stock_agent/internal/feature/prices/domain/entity"
	symbolsusecase "stock_agent/internal/feature/symbols/usecase"
	taskentity "stock_agent/internal/feature/tasks/domain/entity"
	tasksusecase "stock_agent/internal/feature/tasks/usecase"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/retry"
)

// 失敗理由の分類。DownloadStats の集計キーと結果ファイルの理由欄に使います。
const (
	reasonNoData      = "no data"
	reasonFetchFailed = "fetch failed"
	reasonSaveFailed  = "save failed"
)

// SymbolResolver は取得対象の銘柄リストを解決します。
type SymbolResolver interface {
	ResolveSymbols(ctx context.Context, m market.Market, mode symbolsusecase.Mode) ([]string, error)
}

// Fetcher はバッチ単位で日足を取得します。
type Fetcher interface {
	FetchBatch(ctx context.Context, m market.Market, symbols []string, start time.Time) (map[string][]priceentity.Bar, error)
	BatchSize(m market.Market) int
}

// Processor は取得した日足を正規化し移動平均を計算します。
type Processor interface {
	Process(raw []priceentity.Bar) ([]priceentity.Bar, []string)
}

// PriceWriter は日足を保存します。
type PriceWriter interface {
	UpsertBars(ctx context.Context, m market.Market, symbol string, bars []priceentity.Bar) error
}

// ProgressTracker はタスクの進捗を記録します。
type ProgressTracker interface {
	MarkRunning(ctx context.Context, id int64, total int) error
	IncrementCounters(ctx context.Context, id int64, processed, failed int) error
	Finalize(ctx context.Context, id int64) error
}

// ResumeWriter は次回の backfill 用に結果を書き出します。
type ResumeWriter interface {
	RecordFailure(m market.Market, symbol, reason string) error
	RecordSuccess(m market.Market, symbols ...string) error
}

// RunnerConfig は DownloadRunner の実行パラメータです。
type RunnerConfig struct {
	Start      time.Time     // 取得開始日
	BatchDelay time.Duration // バッチ間の待機時間
	Sleep      retry.Sleeper // nil の場合は retry.Sleep
}

// DownloadRunner はダウンロードタスク 1 回分を実行します。
type DownloadRunner struct {
	resolver  SymbolResolver
	fetcher   Fetcher
	processor Processor
	prices    PriceWriter
	tracker   ProgressTracker
	resume    ResumeWriter
	cfg       RunnerConfig
}

// NewDownloadRunner は DownloadRunner を生成します。
func NewDownloadRunner(
	resolver SymbolResolver,
	fetcher Fetcher,
	processor Processor,
	prices PriceWriter,
	tracker ProgressTracker,
	resume ResumeWriter,
	cfg RunnerConfig,
) *DownloadRunner {
	if cfg.Sleep == nil {
		cfg.Sleep = retry.Sleep
	}
	return &DownloadRunner{
		resolver:  resolver,
		fetcher:   fetcher,
		processor: processor,
		prices:    prices,
		tracker:   tracker,
		resume:    resume,
		cfg:       cfg,
	}
}

// progress は tracker にまだ反映できていないカウンタです。
type progress struct {
	processed int
	failed    int
}

// Run は銘柄を解決し、バッチごとに取得・加工・保存して進捗を記録します。
//
// 銘柄単位の失敗は記録して処理を続けます。戻り値のエラーは実行全体の失敗で、
// 呼び出し元がタスクを failed にします。タスクが別の起動処理に回収された場合は
// tasksusecase.ErrTaskNotActive で中断します。
func (r *DownloadRunner) Run(ctx context.Context, job taskentity.Job) error {
	mode, err := symbolsusecase.ParseMode(job.Mode)
	if err != nil {
		return err
	}

	symbols, err := r.resolver.ResolveSymbols(ctx, job.Market, mode)
	if err != nil {
		return fmt.Errorf("resolve %s symbols: %w", job.Market, err)
	}
	if err := r.tracker.MarkRunning(ctx, job.TaskID, len(symbols)); err != nil {
		return fmt.Errorf("mark task %d running: %w", job.TaskID, err)
	}

	slog.Info("download started",
		"task_id", job.TaskID,
		"market", job.Market,
		"mode", mode,
		"symbols", len(symbols),
	)

	stats := NewDownloadStats(job.Market, len(symbols))
	batches := chunk(symbols, r.fetcher.BatchSize(job.Market))
	var pending progress
	for i, batch := range batches {
		if i > 0 {
			if err := r.cfg.Sleep(ctx, r.cfg.BatchDelay); err != nil {
				return err
			}
		}
		processed, failed, err := r.runBatch(ctx, job, batch, stats)
		if err != nil {
			return err
		}
		pending.processed += processed
		pending.failed += failed
		if err := r.flush(ctx, job.TaskID, &pending); err != nil {
			return err
		}
		slog.Info("batch finished",
			"task_id", job.TaskID,
			"market", job.Market,
			"batch", i+1,
			"batches", len(batches),
		)
	}

	// 未反映のカウンタが残ったまま終了状態を決めない
	if pending != (progress{}) {
		if err := r.tracker.IncrementCounters(ctx, job.TaskID, pending.processed, pending.failed); err != nil {
			return fmt.Errorf("record progress of task %d (processed=%d failed=%d): %w",
				job.TaskID, pending.processed, pending.failed, err)
		}
	}
	if err := r.tracker.Finalize(ctx, job.TaskID); err != nil {
		return fmt.Errorf("finalize task %d: %w", job.TaskID, err)
	}
	slog.Info("download finished", stats.LogAttrs()...)
	slog.Info("download summary", "summary", stats.Summary())
	return nil
}

// flush は未反映のカウンタを加算します。一時的な失敗は次のバッチに持ち越します。
func (r *DownloadRunner) flush(ctx context.Context, id int64, p *progress) error {
	err := r.tracker.IncrementCounters(ctx, id, p.processed, p.failed)
	switch {
	case err == nil:
		*p = progress{}
		return nil
	case errors.Is(err, tasksusecase.ErrTaskNotActive):
		return fmt.Errorf("task %d: %w", id, err)
	default:
		slog.Warn("failed to update task progress, retrying with the next batch",
			"task_id", id, "processed", p.processed, "failed", p.failed, "error", err)
		return nil
	}
}

// runBatch は 1 バッチを処理し、成功数と失敗数を返します。
// ctx のキャンセルなど続行できないエラーのみ返します。
func (r *DownloadRunner) runBatch(ctx context.Context, job taskentity.Job, batch []string, stats *DownloadStats) (int, int, error) {
	results, err := r.fetcher.FetchBatch(ctx, job.Market, batch, r.cfg.Start)
	failures := map[string]error{}
	if err != nil {
		var be *BatchError
		if !errors.As(err, &be) {
			return 0, 0, fmt.Errorf("fetch batch: %w", err)
		}
		failures = be.Failures
	}

	var succeeded []string
	failed := 0
	for _, symbol := range batch {
		if ferr, ok := failures[symbol]; ok {
			r.fail(job.Market, symbol, reasonOf(ferr), ferr, stats)
			failed++
			continue
		}

		bars, warnings := r.processor.Process(results[symbol])
		for _, w := range warnings {
			slog.Debug("bar processing", "market", job.Market, "symbol", symbol, "warning", w)
		}
		// 終値が 1 行もない結果は加工されずに返るため保存しない
		if !hasClose(bars) {
			r.fail(job.Market, symbol, reasonNoData, ErrNoData, stats)
			failed++
			continue
		}
		if err := r.prices.UpsertBars(ctx, job.Market, symbol, bars); err != nil {
			r.fail(job.Market, symbol, reasonSaveFailed, err, stats)
			failed++
			continue
		}
		succeeded = append(succeeded, symbol)
	}

	stats.AddSuccess(len(succeeded))
	if len(succeeded) > 0 {
		if err := r.resume.RecordSuccess(job.Market, succeeded...); err != nil {
			slog.Warn("failed to record successful symbols", "market", job.Market, "error", err)
		}
	}
	return len(succeeded), failed, nil
}

func hasClose(bars []priceentity.Bar) bool {
	for _, b := range bars {
		if b.Close != nil {
			return true
		}
	}
	return false
}

func (r *DownloadRunner) fail(m market.Market, symbol, reason string, err error, stats *DownloadStats) {
	slog.Error("symbol failed", "market", m, "symbol", symbol, "reason", reason, "error", err)
	stats.AddFailure(reason, symbol)
	if rerr := r.resume.RecordFailure(m, symbol, fmt.Sprintf("%s: %v", reason, err)); rerr != nil {
		slog.Warn("failed to record failed symbol", "market", m, "symbol", symbol, "error", rerr)
	}
}

func reasonOf(err error) string {
	if errors.Is(err, ErrNoData) {
		return reasonNoData
	}
	return reasonFetchFailed
}

// chunk は symbols を size 件ずつに分割します。順序は保持されます。
func chunk(symbols []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	out := make([][]string, 0, (len(symbols)+size-1)/size)
	for start := 0; start < len(symbols); start += size {
		end := min(start+size, len(symbols))
		out = append(out, symbols[start:end])
	}
	return out
}
