// Package alpaca は Alpaca Markets API から米国株の日足と銘柄一覧を取得します。
package alpaca

import (
	"context"
	"fmt"
	"strings"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stock_agent/internal/feature/prices/domain/entity"
	symbolentity "stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/shared/market"
)

// Config は Alpaca クライアントの設定です。
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API（銘柄一覧）
	DataURL   string // market data API（日足）
	Feed      string // "iex" または "sip"
}

// barsAPI は marketdata.Client のうち本パッケージが使う部分です。
type barsAPI interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// assetsAPI は alpaca.Client のうち本パッケージが使う部分です。
type assetsAPI interface {
	GetAssets(req alpacaapi.GetAssetsRequest) ([]alpacaapi.Asset, error)
}

// Client は 1 リクエストで複数銘柄の日足を取得できるため vectorized 方式で使います。
type Client struct {
	bars   barsAPI
	assets assetsAPI
	feed   string
	now    func() time.Time
}

// NewClient は設定から Alpaca の SDK クライアントを組み立てます。
func NewClient(cfg Config) *Client {
	mdOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		mdOpts.BaseURL = cfg.DataURL
	}
	return &Client{
		bars: marketdata.NewClient(mdOpts),
		assets: alpacaapi.NewClient(alpacaapi.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		feed: cfg.Feed,
		now:  time.Now,
	}
}

// Name はレート制限の単位となるプロバイダー名です。
func (c *Client) Name() string { return "alpaca" }

// FetchHistory は symbols の start 以降の調整済み日足をまとめて取得します。
// データが返らなかった銘柄は結果に含まれません。
func (c *Client) FetchHistory(ctx context.Context, symbols []string, start time.Time) (map[string][]entity.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	multi, err := c.bars.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Adjustment: marketdata.All,
		Start:      start,
		End:        c.now(),
		Feed:       marketdata.Feed(c.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	out := make(map[string][]entity.Bar, len(multi))
	for symbol, abs := range multi {
		sym := strings.ToUpper(symbol)
		bars := make([]entity.Bar, 0, len(abs))
		for _, ab := range abs {
			o, h, l, cl := ab.Open, ab.High, ab.Low, ab.Close
			vol := int64(ab.Volume)
			bars = append(bars, entity.Bar{
				Symbol: sym,
				Date:   ab.Timestamp,
				Open:   &o,
				High:   &h,
				Low:    &l,
				Close:  &cl,
				Volume: &vol,
			})
		}
		out[sym] = bars
	}
	return out, nil
}

// FetchSymbolList は取引可能な米国株の一覧を取得します。OTC 銘柄は除外します。
func (c *Client) FetchSymbolList(ctx context.Context, m market.Market) ([]symbolentity.Symbol, error) {
	if m != market.US {
		return nil, fmt.Errorf("alpaca: %w: %s", market.ErrUnknownMarket, m)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	assets, err := c.assets.GetAssets(alpacaapi.GetAssetsRequest{
		Status:     "active",
		AssetClass: "us_equity",
	})
	if err != nil {
		return nil, fmt.Errorf("GetAssets: %w", err)
	}

	out := make([]symbolentity.Symbol, 0, len(assets))
	for _, a := range assets {
		if !a.Tradable || strings.EqualFold(a.Exchange, "OTC") {
			continue
		}
		out = append(out, symbolentity.Symbol{
			Market:   m,
			Code:     a.Symbol,
			Name:     a.Name,
			Exchange: a.Exchange,
		})
	}
	return out, nil
}
