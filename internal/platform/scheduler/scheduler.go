// Package scheduler は日次ジョブを gocron で定期実行します。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// jobTimeout は 1 回のジョブ呼び出しの上限時間です。
// ジョブ自体はタスクの起動のみを行い、ダウンロード本体はワーカープールで実行されます。
const jobTimeout = time.Minute

// Job はスケジュール実行される処理です。
type Job func(ctx context.Context) error

// Scheduler は毎日決まった時刻にジョブを実行します。
type Scheduler struct {
	cron  *gocron.Scheduler
	names []string
}

// New は loc のタイムゾーンで時刻を解釈する Scheduler を生成します。
func New(loc *time.Location) *Scheduler {
	cron := gocron.NewScheduler(loc)
	// 前回の実行が終わっていなければ次の実行をスキップする
	cron.SingletonModeAll()
	return &Scheduler{cron: cron}
}

// Daily は name のジョブを毎日 at ("HH:MM") に実行するよう登録します。
func (s *Scheduler) Daily(name, at string, job Job) error {
	_, err := s.cron.Every(1).Day().At(at).Tag(name).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		slog.Info("scheduled job triggered", "job", name)
		if err := job(ctx); err != nil {
			slog.Error("scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s at %s: %w", name, at, err)
	}
	s.names = append(s.names, name)
	return nil
}

// NextRun は name のジョブの次回実行時刻を返します。Start 前はゼロ値です。
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	jobs, err := s.cron.FindJobsByTag(name)
	if err != nil {
		return time.Time{}, err
	}
	return jobs[0].NextRun(), nil
}

// RunNow は name のジョブを即時に非同期実行します。
func (s *Scheduler) RunNow(name string) error {
	return s.cron.RunByTag(name)
}

// RunAll は登録済みの全ジョブを即時に非同期実行します。Start 後に呼び出します。
func (s *Scheduler) RunAll() error {
	var errs []error
	for _, name := range s.names {
		if err := s.RunNow(name); err != nil {
			errs = append(errs, fmt.Errorf("run %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Start はスケジューラーをバックグラウンドで開始し、各ジョブの次回実行時刻をログに出します。
func (s *Scheduler) Start() {
	s.cron.StartAsync()
	slog.Info("scheduler started", "jobs", len(s.cron.Jobs()))
	for _, name := range s.names {
		next, err := s.NextRun(name)
		if err != nil {
			slog.Warn("next run unknown", "job", name, "error", err)
			continue
		}
		slog.Info("next scheduled run", "job", name, "at", next)
	}
}

// Stop はスケジューラーを停止します。
func (s *Scheduler) Stop() {
	s.cron.Stop()
	slog.Info("scheduler stopped")
}
