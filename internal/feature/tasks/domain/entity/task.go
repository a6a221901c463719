package entity

import (
	"time"

	"stock_agent/internal/shared/market"
)

// TaskType はタスクの種類です。登録済みの Runner に対応付けられます。
type TaskType string

const (
	TaskTypeDownload TaskType = "download"
)

// Status はタスクの状態です。
//
//	pending → running → {completed | partial | failed}
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Active は終了状態でなければ true を返します。
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Task は長時間実行ジョブの進捗レコードです。
type Task struct {
	ID               int64
	TaskType         TaskType
	Market           market.Market
	Status           Status
	StartTime        time.Time
	EndTime          *time.Time
	LastUpdateTime   time.Time
	TotalSymbols     int
	ProcessedSymbols int
	FailedSymbols    int
	ErrorMessage     string
}

// Progress は処理済み＋失敗の割合をパーセントで返します。
func (t Task) Progress() float64 {
	if t.TotalSymbols == 0 {
		return 0
	}
	return float64(t.ProcessedSymbols+t.FailedSymbols) / float64(t.TotalSymbols) * 100
}

// TaskUpdate はタスク行への部分更新です。nil/ゼロ値のフィールドは変更しません。
// 終了状態の行には適用されません。
type TaskUpdate struct {
	Status             *Status
	TotalSymbols       *int
	ResetCounters      bool
	IncrementProcessed int
	IncrementFailed    int
	ErrorMessage       *string
	EndTime            *time.Time
	// FinalizeFromCounters が true の場合、保存済みカウンタから終了状態を決定します。
	FinalizeFromCounters bool
}

// Job は Runner に渡される 1 回分の実行要求です。
type Job struct {
	TaskID int64
	Market market.Market
	Mode   string
}

// StartStatus は StartDownloadTask の結果種別です。
type StartStatus string

const (
	StartStarted StartStatus = "started"
	StartSkipped StartStatus = "skipped"
	StartError   StartStatus = "error"
)

// StartResult は StartDownloadTask の結果です。
type StartResult struct {
	Status  StartStatus
	TaskID  int64
	Message string
}

// RunnerState はワーカープール上の実行状態です。
type RunnerState string

const (
	RunnerRunning  RunnerState = "running"
	RunnerFinished RunnerState = "finished"
	RunnerNotFound RunnerState = "not_found"
)

// TaskSnapshot は状態問い合わせの応答です。
type TaskSnapshot struct {
	Task        Task
	RunnerState RunnerState
}
