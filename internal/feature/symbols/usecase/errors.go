package usecase

import "errors"

var (
	// ErrDegradedCatalog はプロバイダーから取得した銘柄数が保存済み件数の半分未満であることを示します。
	ErrDegradedCatalog = errors.New("symbol list from provider looks degraded")
	// ErrUnknownMode は未対応の銘柄解決モードです。
	ErrUnknownMode = errors.New("unknown symbol resolve mode")
	// ErrNoSource は市場に銘柄リストの取得元が登録されていないことを示します。
	ErrNoSource = errors.New("no symbol source for market")
)
