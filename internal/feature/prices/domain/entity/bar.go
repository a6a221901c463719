// Package entity は日足価格データのドメインモデルを定義します。
package entity

import "time"

// MAWindows は計算する移動平均の期間です。
var MAWindows = []int{5, 10, 20, 60, 200}

// Bar は 1 銘柄 1 日分の OHLCV と移動平均です。
// 欠損値は nil で表現します。識別子は (Symbol, Date) です。
type Bar struct {
	Symbol string
	Date   time.Time // UTC の日付（時刻部分は 0）
	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume *int64

	MA5   *float64
	MA10  *float64
	MA20  *float64
	MA60  *float64
	MA200 *float64
}

// MA は期間 w の移動平均フィールドへのポインタを返します。未対応の期間なら nil。
func (b *Bar) MA(w int) **float64 {
	switch w {
	case 5:
		return &b.MA5
	case 10:
		return &b.MA10
	case 20:
		return &b.MA20
	case 60:
		return &b.MA60
	case 200:
		return &b.MA200
	}
	return nil
}

// Float はリテラルから *float64 を作るヘルパーです。
func Float(v float64) *float64 { return &v }

// Int は int64 リテラルから *int64 を作るヘルパーです。
func Int(v int64) *int64 { return &v }
