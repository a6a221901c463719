// Package dto defines data transfer objects for the EastMoney quote API responses.
package dto

// KlineResponse represents the JSON response from the /api/qt/stock/kline/get endpoint.
// Each kline is a comma separated row: date,open,close,high,low,volume,amount.
type KlineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Market int      `json:"market"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// ClistResponse represents the JSON response from the /api/qt/clist/get endpoint.
// f12 is the code, f13 the market id (1 = Shanghai, 0 = Shenzhen/Beijing), f14 the name.
type ClistResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Total int `json:"total"`
		Diff  []struct {
			Code     string `json:"f12"`
			MarketID int    `json:"f13"`
			Name     string `json:"f14"`
		} `json:"diff"`
	} `json:"data"`
}
