package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"stock_agent/internal/feature/tasks/domain/entity"
	"stock_agent/internal/platform/lock"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/workerpool"
)

// failTimeout は実行失敗を記録する際のタイムアウトです。
// 実行コンテキストがキャンセル済みでも記録できるよう、独立したコンテキストを使います。
const failTimeout = 10 * time.Second

// Runner はタスク 1 回分の処理です。タスク種別ごとに登録します。
type Runner interface {
	Run(ctx context.Context, job entity.Job) error
}

// Submitter はジョブをバックグラウンドで実行します。
type Submitter interface {
	Submit(job workerpool.Job) (*workerpool.Future, error)
}

// ManagerConfig は TaskManager の判定パラメータです。
type ManagerConfig struct {
	StalenessWindow time.Duration // この期間内に完了したタスクがあれば再実行しない
	StaleAfter      time.Duration // この期間更新のない実行中タスクは停止したとみなす
}

// StartRequest は StartDownloadTask の入力です。
type StartRequest struct {
	Market market.Market
	Force  bool
	Mode   string
}

type runHandle struct {
	market market.Market
	future *workerpool.Future
}

// TaskManager はタスクの起動と状態参照を担います。
// 同じ市場のダウンロードは同時に 1 つだけ実行されます。
type TaskManager struct {
	tracker TaskTracker
	locker  lock.Locker
	pool    Submitter
	runners map[entity.TaskType]Runner
	cfg     ManagerConfig
	now     func() time.Time

	mu      sync.Mutex
	futures map[int64]runHandle
}

// NewTaskManager は TaskManager を生成します。
func NewTaskManager(tracker TaskTracker, locker lock.Locker, pool Submitter, runners map[entity.TaskType]Runner, cfg ManagerConfig) *TaskManager {
	return &TaskManager{
		tracker: tracker,
		locker:  locker,
		pool:    pool,
		runners: runners,
		cfg:     cfg,
		now:     time.Now,
		futures: make(map[int64]runHandle),
	}
}

// StartDownloadTask は市場のダウンロードタスクを起動します。
//
// 実行中のタスクがある場合は ErrTaskAlreadyRunning、ワーカープールが満杯の場合は
// workerpool.ErrPoolFull をラップして返します。いずれの場合も StartResult は
// Status=error で、呼び出し元はそのまま応答に使えます。
func (m *TaskManager) StartDownloadTask(ctx context.Context, req StartRequest) (entity.StartResult, error) {
	runner, ok := m.runners[entity.TaskTypeDownload]
	if !ok {
		return errorResult(fmt.Errorf("%w: %s", ErrUnknownTaskType, entity.TaskTypeDownload))
	}

	release, err := m.locker.Lock(ctx, "download:"+req.Market.String())
	if err != nil {
		return errorResult(fmt.Errorf("lock %s: %w", req.Market, err))
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			slog.Warn("failed to release task lock", "market", req.Market, "error", err)
		}
	}()

	// このプロセスで待機中・実行中のタスクは更新が止まっていても回収しない
	if id, ok := m.liveTask(req.Market); ok {
		slog.Info("download task still queued or running in this process", "market", req.Market, "task_id", id)
		return alreadyRunning(req.Market)
	}

	reclaimed, err := m.tracker.ReclaimStale(ctx, req.Market, m.cfg.StaleAfter)
	if err != nil {
		return errorResult(fmt.Errorf("reclaim stale tasks: %w", err))
	}
	if reclaimed > 0 {
		slog.Warn("reclaimed stale tasks", "market", req.Market, "count", reclaimed, "stale_after", m.cfg.StaleAfter)
	}

	running, err := m.tracker.IsTaskRunning(ctx, req.Market, m.cfg.StaleAfter)
	if err != nil {
		return errorResult(fmt.Errorf("check running task: %w", err))
	}
	if running {
		return alreadyRunning(req.Market)
	}

	if !req.Force {
		latest, err := m.tracker.LatestCompleted(ctx, req.Market)
		switch {
		case errors.Is(err, ErrTaskNotFound):
		case err != nil:
			return errorResult(fmt.Errorf("latest completed task: %w", err))
		case latest.EndTime != nil && m.now().Sub(*latest.EndTime) < m.cfg.StalenessWindow:
			return entity.StartResult{
				Status:  entity.StartSkipped,
				TaskID:  latest.ID,
				Message: fmt.Sprintf("Data for %s market was downloaded less than %s ago", req.Market, m.cfg.StalenessWindow),
			}, nil
		}
	}

	id, err := m.tracker.CreateTask(ctx, entity.TaskTypeDownload, req.Market)
	if err != nil {
		return errorResult(fmt.Errorf("create task: %w", err))
	}

	job := entity.Job{TaskID: id, Market: req.Market, Mode: req.Mode}
	future, err := m.pool.Submit(m.wrap(runner, job))
	if err != nil {
		m.markFailed(id, err)
		return entity.StartResult{
			Status:  entity.StartError,
			TaskID:  id,
			Message: err.Error(),
		}, fmt.Errorf("submit task %d: %w", id, err)
	}
	m.track(id, req.Market, future)

	slog.Info("download task started", "task_id", id, "market", req.Market, "force", req.Force, "mode", req.Mode)
	return entity.StartResult{
		Status:  entity.StartStarted,
		TaskID:  id,
		Message: fmt.Sprintf("Download task for %s market started", req.Market),
	}, nil
}

// wrap は Runner を実行し、エラーや panic をタスクの失敗として記録するジョブを返します。
func (m *TaskManager) wrap(runner Runner, job entity.Job) workerpool.Job {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("task panicked", "task_id", job.TaskID, "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("task panicked: %v", r)
			}
			if err != nil {
				m.markFailed(job.TaskID, err)
			}
		}()
		return runner.Run(ctx, job)
	}
}

func (m *TaskManager) markFailed(id int64, cause error) {
	slog.Error("task failed", "task_id", id, "error", cause)
	ctx, cancel := context.WithTimeout(context.Background(), failTimeout)
	defer cancel()
	err := m.tracker.MarkFailed(ctx, id, cause.Error())
	switch {
	case errors.Is(err, ErrTaskNotActive):
		slog.Warn("task already finished, failure not recorded", "task_id", id)
	case err != nil:
		slog.Error("failed to mark task failed", "task_id", id, "error", err)
	}
}

// track は future を登録し、同じ市場の完了済み future を破棄します。
func (m *TaskManager) track(id int64, mk market.Market, f *workerpool.Future) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prev, h := range m.futures {
		if h.market == mk && h.future.Finished() {
			delete(m.futures, prev)
		}
	}
	m.futures[id] = runHandle{market: mk, future: f}
}

// liveTask は市場 mk のタスクのうち、このプロセスで未完了のものを返します。
func (m *TaskManager) liveTask(mk market.Market) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.futures {
		if h.market == mk && !h.future.Finished() {
			return id, true
		}
	}
	return 0, false
}

func (m *TaskManager) runnerState(id int64) entity.RunnerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.futures[id]
	switch {
	case !ok:
		return entity.RunnerNotFound
	case h.future.Finished():
		return entity.RunnerFinished
	default:
		return entity.RunnerRunning
	}
}

// GetTaskStatus は taskID のタスク、なければ市場の最新タスク、どちらも nil なら
// 全体の最新タスクを返します。
func (m *TaskManager) GetTaskStatus(ctx context.Context, taskID *int64, mk *market.Market) (entity.TaskSnapshot, error) {
	var (
		task *entity.Task
		err  error
	)
	if taskID != nil {
		task, err = m.tracker.Get(ctx, *taskID)
	} else {
		task, err = m.tracker.Latest(ctx, mk)
	}
	if err != nil {
		return entity.TaskSnapshot{}, err
	}
	return entity.TaskSnapshot{Task: *task, RunnerState: m.runnerState(task.ID)}, nil
}

// Wait はこのプロセスで起動したタスクの完了を待ちます。
func (m *TaskManager) Wait(ctx context.Context, id int64) error {
	m.mu.Lock()
	h, ok := m.futures[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return h.future.Wait(ctx)
}

func alreadyRunning(mk market.Market) (entity.StartResult, error) {
	res := entity.StartResult{
		Status:  entity.StartError,
		Message: fmt.Sprintf("A download task for %s market is already running", mk),
	}
	return res, fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, mk)
}

func errorResult(err error) (entity.StartResult, error) {
	return entity.StartResult{Status: entity.StartError, Message: err.Error()}, err
}
