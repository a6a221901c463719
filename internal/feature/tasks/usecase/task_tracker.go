// Package usecase はタスクの起動・重複排除・状態参照のビジネスロジックを実装します。
package usecase

import (
	"context"
	"time"

	"stock_agent/internal/feature/tasks/domain/entity"
	"stock_agent/internal/shared/market"
)

// TaskTracker は task_status テーブルへのアクセスを抽象化します。
// 終了状態の行は更新されず、更新系は ErrTaskNotActive を返します。
type TaskTracker interface {
	CreateTask(ctx context.Context, taskType entity.TaskType, m market.Market) (int64, error)
	Apply(ctx context.Context, id int64, u entity.TaskUpdate) error
	MarkRunning(ctx context.Context, id int64, total int) error
	IncrementCounters(ctx context.Context, id int64, processed, failed int) error
	Finalize(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, msg string) error

	// Get は ID でタスクを取得します。存在しない場合は ErrTaskNotFound を返します。
	Get(ctx context.Context, id int64) (*entity.Task, error)
	// Latest は最新のタスクを返します。m が nil の場合は全市場が対象です。
	Latest(ctx context.Context, m *market.Market) (*entity.Task, error)
	LatestCompleted(ctx context.Context, m market.Market) (*entity.Task, error)
	IsTaskRunning(ctx context.Context, m market.Market, staleAfter time.Duration) (bool, error)
	// ReclaimStale は staleAfter より長く更新のない実行中タスクを failed にし、件数を返します。
	ReclaimStale(ctx context.Context, m market.Market, staleAfter time.Duration) (int64, error)
}
