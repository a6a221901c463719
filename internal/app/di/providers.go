// Package di はアプリケーションの依存関係を組み立てます。
package di

import (
	"context"
	"fmt"
	"time"

	"stock_agent/internal/config"
	priceentity "stock_agent/internal/feature/prices/domain/entity"
	symbolentity "stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/platform/externalapi/alpaca"
	"stock_agent/internal/platform/externalapi/eastmoney"
	"stock_agent/internal/platform/externalapi/twelvedata"
	infrahttp "stock_agent/internal/platform/http"
	"stock_agent/internal/shared/market"
)

// Provider は日足と銘柄一覧の両方を提供する外部データソースです。
type Provider interface {
	Name() string
	FetchHistory(ctx context.Context, symbols []string, start time.Time) (map[string][]priceentity.Bar, error)
	FetchSymbolList(ctx context.Context, m market.Market) ([]symbolentity.Symbol, error)
}

var (
	_ Provider = (*alpaca.Client)(nil)
	_ Provider = (*twelvedata.TwelveDataMarket)(nil)
	_ Provider = (*eastmoney.Client)(nil)
)

// NewProvider は名前に対応する Provider を生成します。
// conns は HTTP プロバイダーのホストあたり同時接続数の上限です（0 は無制限）。
func NewProvider(name string, p config.Providers, conns int) (Provider, error) {
	switch name {
	case "alpaca":
		return alpaca.NewClient(alpaca.Config{
			APIKey:    p.Alpaca.APIKey,
			APISecret: p.Alpaca.APISecret,
			BaseURL:   p.Alpaca.BaseURL,
			DataURL:   p.Alpaca.DataURL,
			Feed:      p.Alpaca.Feed,
		}), nil
	case "twelvedata":
		cfg := twelvedata.FromAppConfig(p.TwelveData)
		return twelvedata.NewTwelveDataMarket(cfg, infrahttp.NewHTTPClient(cfg.Timeout, infrahttp.WithMaxConnsPerHost(conns))), nil
	case "eastmoney":
		cfg := eastmoney.Config{
			HistoryURL: p.EastMoney.HistoryURL,
			ListURL:    p.EastMoney.ListURL,
			Timeout:    p.EastMoney.Timeout,
		}
		return eastmoney.NewClient(cfg, infrahttp.NewHTTPClient(cfg.Timeout, infrahttp.WithMaxConnsPerHost(conns))), nil
	}
	return nil, fmt.Errorf("unknown provider %q", name)
}

// NewMarketProviders は設定された市場ごとに Provider を生成します。
// 同じプロバイダーを複数の市場で使う場合はインスタンスを共有します。
func NewMarketProviders(cfg *config.Config) (map[market.Market]Provider, error) {
	byName := map[string]Provider{}
	out := map[market.Market]Provider{}
	for _, m := range market.All() {
		mc, ok := cfg.MarketConfig(m)
		if !ok {
			continue
		}
		p, ok := byName[mc.Provider]
		if !ok {
			var err error
			if p, err = NewProvider(mc.Provider, cfg.Providers, cfg.Download.RateLimits[mc.Provider]); err != nil {
				return nil, fmt.Errorf("market %s: %w", m, err)
			}
			byName[mc.Provider] = p
		}
		out[m] = p
	}
	return out, nil
}
