package usecase

import "errors"

var (
	// ErrTaskNotFound は該当するタスクが存在しないことを示します。
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskAlreadyRunning は同じ市場のタスクが実行中であることを示します。
	ErrTaskAlreadyRunning = errors.New("task already running for market")
	// ErrTaskNotActive は更新対象のタスクが存在しないか、すでに終了状態であることを示します。
	// 別の起動処理に failed として回収されたタスクの実行はこのエラーで中断します。
	ErrTaskNotActive = errors.New("task is not active")
	// ErrUnknownTaskType は Runner が登録されていないタスク種別です。
	ErrUnknownTaskType = errors.New("unknown task type")
)
