// Package dto は tasks フィーチャーのHTTPトランスポート層のデータ転送オブジェクトを定義します。
package dto

// DownloadRequest は POST /api/tasks/download のリクエストボディです。
// market を省略した場合は cn になります。
type DownloadRequest struct {
	Market string `json:"market"`
	Force  bool   `json:"force"`
	Mode   string `json:"mode" binding:"omitempty,oneof=live backfill stored"`
}

// StartResponse はタスク起動の結果です。
type StartResponse struct {
	Status     string `json:"status"`
	TaskID     *int64 `json:"task_id,omitempty"`
	LastTaskID *int64 `json:"last_task_id,omitempty"` // skipped の場合の直近完了タスク
	Message    string `json:"message"`
}

// TaskStatusResponse はタスク状態のレスポンスです。時刻は RFC3339 (UTC) です。
type TaskStatusResponse struct {
	TaskID           int64   `json:"task_id"`
	TaskType         string  `json:"task_type"`
	Market           string  `json:"market"`
	Status           string  `json:"status"`
	StartTime        string  `json:"start_time"`
	EndTime          *string `json:"end_time"`
	LastUpdateTime   string  `json:"last_update_time"`
	TotalSymbols     int     `json:"total_symbols"`
	ProcessedSymbols int     `json:"processed_symbols"`
	FailedSymbols    int     `json:"failed_symbols"`
	Progress         float64 `json:"progress"`
	ErrorMessage     string  `json:"error_message,omitempty"`
	RunnerState      string  `json:"runner_state"`
}

// ErrorResponse はエラー時のレスポンスDTOです。
type ErrorResponse struct {
	Error string `json:"error"`
}
