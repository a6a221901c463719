package dto

// BarResponse は日足データのレスポンスDTOです。欠損値は null になります。
type BarResponse struct {
	Date   string   `json:"date"`   // 日付
	Open   *float64 `json:"open"`   // 始値
	High   *float64 `json:"high"`   // 高値
	Low    *float64 `json:"low"`    // 安値
	Close  *float64 `json:"close"`  // 終値
	Volume *int64   `json:"volume"` // 出来高
	MA5    *float64 `json:"ma5"`
	MA10   *float64 `json:"ma10"`
	MA20   *float64 `json:"ma20"`
	MA60   *float64 `json:"ma60"`
	MA200  *float64 `json:"ma200"`
}

// ErrorResponse はエラー時のレスポンスDTOです。
type ErrorResponse struct {
	Error string `json:"error"`
}
