// Package market は取得対象となる株式市場（米国株・中国A株）を表す型を提供します。
package market

import (
	"errors"
	"fmt"
	"strings"
)

// Market は銘柄ユニバースを識別する市場コードです。
type Market string

const (
	// US は米国株式市場です。
	US Market = "us"
	// CN は中国A株市場（上海・深セン・北京）です。
	CN Market = "cn"
)

// ErrUnknownMarket はサポートされていない市場コードが指定された場合に返されます。
var ErrUnknownMarket = errors.New("unknown market")

// All はサポートされている市場の一覧を返します。
func All() []Market {
	return []Market{US, CN}
}

// Parse は文字列を Market に変換します。大文字小文字は区別しません。
func Parse(s string) (Market, error) {
	switch Market(strings.ToLower(strings.TrimSpace(s))) {
	case US:
		return US, nil
	case CN:
		return CN, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMarket, s)
}

// String は市場コードを返します。
func (m Market) String() string { return string(m) }

// PriceTable は日足を格納するテーブル名（例: us_stock_prices）を返します。
func (m Market) PriceTable() string { return string(m) + "_stock_prices" }

// InfoTable は銘柄情報を格納するテーブル名（例: cn_stocks_info）を返します。
func (m Market) InfoTable() string { return string(m) + "_stocks_info" }
