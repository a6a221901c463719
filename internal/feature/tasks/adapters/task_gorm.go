// Package adapters は tasks フィーチャーのリポジトリ実装を提供します。
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"stock_agent/internal/feature/tasks/domain/entity"
	"stock_agent/internal/feature/tasks/usecase"
	"stock_agent/internal/shared/market"
)

// activeStatuses は更新可能な状態です。終了状態の行はどの更新でも変更されません。
var activeStatuses = []string{string(entity.StatusPending), string(entity.StatusRunning)}

// TaskModel is the GORM model for the task_status table.
type TaskModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	TaskType         string    `gorm:"size:50;not null"`
	Market           string    `gorm:"size:10;index;not null"`
	Status           string    `gorm:"size:20;index;not null"`
	StartTime        time.Time `gorm:"not null"`
	EndTime          *time.Time
	LastUpdateTime   time.Time `gorm:"not null"`
	TotalSymbols     int       `gorm:"not null;default:0"`
	ProcessedSymbols int       `gorm:"not null;default:0"`
	FailedSymbols    int       `gorm:"not null;default:0"`
	ErrorMessage     string    `gorm:"type:text"`
}

// TableName returns the table name for GORM.
func (TaskModel) TableName() string {
	return "task_status"
}

// ToEntity converts the GORM model to a domain entity.
func (m *TaskModel) ToEntity() *entity.Task {
	return &entity.Task{
		ID:               m.ID,
		TaskType:         entity.TaskType(m.TaskType),
		Market:           market.Market(m.Market),
		Status:           entity.Status(m.Status),
		StartTime:        m.StartTime,
		EndTime:          m.EndTime,
		LastUpdateTime:   m.LastUpdateTime,
		TotalSymbols:     m.TotalSymbols,
		ProcessedSymbols: m.ProcessedSymbols,
		FailedSymbols:    m.FailedSymbols,
		ErrorMessage:     m.ErrorMessage,
	}
}

// taskGorm は TaskTracker インターフェースの GORM 実装です。
type taskGorm struct {
	db  *gorm.DB
	now func() time.Time
}

var _ usecase.TaskTracker = (*taskGorm)(nil)

// NewTaskRepository は taskGorm を生成します。
func NewTaskRepository(db *gorm.DB) *taskGorm {
	return &taskGorm{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateTask は pending 状態のタスクを作成し ID を返します。
func (r *taskGorm) CreateTask(ctx context.Context, taskType entity.TaskType, m market.Market) (int64, error) {
	now := r.now()
	row := TaskModel{
		TaskType:       string(taskType),
		Market:         m.String(),
		Status:         string(entity.StatusPending),
		StartTime:      now,
		LastUpdateTime: now,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	return row.ID, nil
}

// Apply は部分更新を 1 回の UPDATE で適用します。
// カウンタは col = col + ? で加算し、last_update_time を更新します。
// 対象が存在しないか終了状態の場合は usecase.ErrTaskNotActive を返します。
func (r *taskGorm) Apply(ctx context.Context, id int64, u entity.TaskUpdate) error {
	updates := map[string]any{"last_update_time": r.now()}
	if u.Status != nil {
		updates["status"] = string(*u.Status)
	}
	if u.TotalSymbols != nil {
		updates["total_symbols"] = *u.TotalSymbols
	}
	if u.ResetCounters {
		updates["processed_symbols"] = 0
		updates["failed_symbols"] = 0
	}
	if u.IncrementProcessed != 0 {
		updates["processed_symbols"] = gorm.Expr("processed_symbols + ?", u.IncrementProcessed)
	}
	if u.IncrementFailed != 0 {
		updates["failed_symbols"] = gorm.Expr("failed_symbols + ?", u.IncrementFailed)
	}
	if u.ErrorMessage != nil {
		updates["error_message"] = *u.ErrorMessage
	}
	if u.EndTime != nil {
		updates["end_time"] = *u.EndTime
	}
	if u.FinalizeFromCounters {
		updates["status"] = gorm.Expr(
			"CASE WHEN failed_symbols = 0 THEN ? WHEN failed_symbols >= total_symbols THEN ? ELSE ? END",
			string(entity.StatusCompleted), string(entity.StatusFailed), string(entity.StatusPartial),
		)
	}

	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update task %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update task %d: %w", id, usecase.ErrTaskNotActive)
	}
	return nil
}

// MarkRunning はタスクを running にし、対象銘柄数を設定してカウンタを 0 に戻します。
func (r *taskGorm) MarkRunning(ctx context.Context, id int64, total int) error {
	s := entity.StatusRunning
	return r.Apply(ctx, id, entity.TaskUpdate{Status: &s, TotalSymbols: &total, ResetCounters: true})
}

func (r *taskGorm) IncrementCounters(ctx context.Context, id int64, processed, failed int) error {
	return r.Apply(ctx, id, entity.TaskUpdate{IncrementProcessed: processed, IncrementFailed: failed})
}

// Finalize は保存済みカウンタから completed / partial / failed を決定して終了します。
func (r *taskGorm) Finalize(ctx context.Context, id int64) error {
	end := r.now()
	return r.Apply(ctx, id, entity.TaskUpdate{FinalizeFromCounters: true, EndTime: &end})
}

func (r *taskGorm) MarkFailed(ctx context.Context, id int64, msg string) error {
	s, end := entity.StatusFailed, r.now()
	return r.Apply(ctx, id, entity.TaskUpdate{Status: &s, ErrorMessage: &msg, EndTime: &end})
}

// Get は ID でタスクを取得します。存在しない場合は usecase.ErrTaskNotFound を返します。
func (r *taskGorm) Get(ctx context.Context, id int64) (*entity.Task, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// Latest は開始時刻が最も新しいタスクを返します。m が nil の場合は全市場が対象です。
func (r *taskGorm) Latest(ctx context.Context, m *market.Market) (*entity.Task, error) {
	q := r.db.WithContext(ctx)
	if m != nil {
		q = q.Where("market = ?", m.String())
	}
	return r.first(q.Order("start_time DESC").Order("id DESC"))
}

// LatestCompleted は終了時刻が最も新しい completed のタスクを返します。
func (r *taskGorm) LatestCompleted(ctx context.Context, m market.Market) (*entity.Task, error) {
	q := r.db.WithContext(ctx).
		Where("market = ? AND status = ?", m.String(), string(entity.StatusCompleted)).
		Order("end_time DESC")
	return r.first(q)
}

func (r *taskGorm) first(q *gorm.DB) (*entity.Task, error) {
	var row TaskModel
	if err := q.Limit(1).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, usecase.ErrTaskNotFound
		}
		return nil, err
	}
	return row.ToEntity(), nil
}

// IsTaskRunning は staleAfter 以内に更新された pending / running のタスクがあれば true を返します。
func (r *taskGorm) IsTaskRunning(ctx context.Context, m market.Market, staleAfter time.Duration) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("market = ? AND status IN ? AND last_update_time >= ?", m.String(), activeStatuses, r.now().Add(-staleAfter)).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count running tasks: %w", err)
	}
	return n > 0, nil
}

// ReclaimStale は staleAfter より長く更新のない pending / running のタスクを failed にします。
func (r *taskGorm) ReclaimStale(ctx context.Context, m market.Market, staleAfter time.Duration) (int64, error) {
	now := r.now()
	cutoff := now.Add(-staleAfter)
	res := r.db.WithContext(ctx).
		Model(&TaskModel{}).
		Where("market = ? AND status IN ? AND last_update_time < ?", m.String(), activeStatuses, cutoff).
		Updates(map[string]any{
			"status":           string(entity.StatusFailed),
			"error_message":    fmt.Sprintf("no progress since %s", cutoff.Format(time.RFC3339)),
			"end_time":         now,
			"last_update_time": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reclaim stale tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
