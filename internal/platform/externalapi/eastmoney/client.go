// Package eastmoney provides a client for the EastMoney quote API (China A-shares).
package eastmoney

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock_agent/internal/feature/prices/domain/entity"
	symbolentity "stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/platform/externalapi/eastmoney/dto"
	"stock_agent/internal/shared/market"
)

// Config holds configuration for the EastMoney client.
type Config struct {
	HistoryURL string        // e.g. "https://push2his.eastmoney.com"
	ListURL    string        // e.g. "https://82.push2.eastmoney.com"
	Timeout    time.Duration // HTTP request timeout
}

// ErrNoData は銘柄の日足が返らなかったことを示します。
var ErrNoData = errors.New("eastmoney: no data")

const (
	// A 株全体（上海主板・科創板、深セン主板・創業板、北京）
	aShareFilter = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"
	pageSize     = 5000
	maxPages     = 20
)

// Client は 1 リクエスト 1 銘柄のため per_symbol の取得方式で使います。
type Client struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// NewClient は指定された設定とHTTPクライアントでClientの新しいインスタンスを生成します。
func NewClient(cfg Config, client *http.Client) *Client {
	return &Client{cfg: cfg, client: client, now: time.Now}
}

// Name はレート制限の単位となるプロバイダー名です。
func (c *Client) Name() string { return "eastmoney" }

// FetchHistory は各銘柄の start 以降の前復権日足を取得します。1 銘柄でも失敗すればエラーを返します。
func (c *Client) FetchHistory(ctx context.Context, symbols []string, start time.Time) (map[string][]entity.Bar, error) {
	out := make(map[string][]entity.Bar, len(symbols))
	for _, s := range symbols {
		bars, err := c.GetDaily(ctx, s, start)
		if errors.Is(err, ErrNoData) {
			// 上場廃止・停止中の銘柄は結果から除外する
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		out[s] = bars
	}
	return out, nil
}

// GetDaily は 1 銘柄の日足を取得します。出来高の単位は手（100 株）です。
func (c *Client) GetDaily(ctx context.Context, symbol string, start time.Time) ([]entity.Bar, error) {
	q := url.Values{}
	q.Set("secid", SecID(symbol))
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")
	q.Set("klt", "101") // 日足
	q.Set("fqt", "1")   // 前復権
	q.Set("beg", start.Format("20060102"))
	q.Set("end", c.now().Format("20060102"))

	var body dto.KlineResponse
	if err := c.get(ctx, c.cfg.HistoryURL+"/api/qt/stock/kline/get", q, &body); err != nil {
		return nil, err
	}
	if body.Data == nil {
		return nil, ErrNoData
	}

	bars := make([]entity.Bar, 0, len(body.Data.Klines))
	for _, line := range body.Data.Klines {
		b, err := parseKline(symbol, line)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// FetchSymbolList は A 株の全銘柄をページ単位で取得します。
func (c *Client) FetchSymbolList(ctx context.Context, m market.Market) ([]symbolentity.Symbol, error) {
	if m != market.CN {
		return nil, fmt.Errorf("eastmoney: %w: %s", market.ErrUnknownMarket, m)
	}

	var out []symbolentity.Symbol
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("pn", strconv.Itoa(page))
		q.Set("pz", strconv.Itoa(pageSize))
		q.Set("po", "1")
		q.Set("np", "1")
		q.Set("fltt", "2")
		q.Set("invt", "2")
		q.Set("fid", "f12")
		q.Set("fs", aShareFilter)
		q.Set("fields", "f12,f13,f14")

		var body dto.ClistResponse
		if err := c.get(ctx, c.cfg.ListURL+"/api/qt/clist/get", q, &body); err != nil {
			return nil, err
		}
		if body.Data == nil || len(body.Data.Diff) == 0 {
			break
		}
		for _, d := range body.Data.Diff {
			out = append(out, symbolentity.Symbol{
				Market:   m,
				Code:     d.Code,
				Name:     d.Name,
				Exchange: exchangeOf(d.Code, d.MarketID),
			})
		}
		if len(out) >= body.Data.Total {
			break
		}
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return fmt.Errorf("eastmoney http %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// SecID は銘柄コードを EastMoney の secid（"1.600000" など）に変換します。
// 上海（6, 9 始まり）は 1、それ以外（深セン・北京）は 0 です。
func SecID(code string) string {
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "1." + code
	}
	return "0." + code
}

func exchangeOf(code string, marketID int) string {
	if marketID == 1 {
		return "SH"
	}
	if strings.HasPrefix(code, "4") || strings.HasPrefix(code, "8") || strings.HasPrefix(code, "92") {
		return "BJ"
	}
	return "SZ"
}

// parseKline は "date,open,close,high,low,volume,amount" の 1 行を変換します。
func parseKline(symbol, line string) (entity.Bar, error) {
	f := strings.Split(line, ",")
	if len(f) < 6 {
		return entity.Bar{}, fmt.Errorf("parse kline %q: expected at least 6 fields", line)
	}
	date, err := time.Parse("2006-01-02", f[0])
	if err != nil {
		return entity.Bar{}, fmt.Errorf("parse time %q: %w", f[0], err)
	}
	var prices [4]*float64
	for i, name := range []string{"open", "close", "high", "low"} {
		s := f[i+1]
		if s == "" || s == "-" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return entity.Bar{}, fmt.Errorf("parse %s %q: %w", name, s, err)
		}
		prices[i] = &v
	}
	var vol *int64
	if s := f[5]; s != "" && s != "-" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return entity.Bar{}, fmt.Errorf("parse volume %q: %w", s, err)
		}
		n := int64(v)
		vol = &n
	}
	return entity.Bar{
		Symbol: symbol,
		Date:   date,
		Open:   prices[0],
		Close:  prices[1],
		High:   prices[2],
		Low:    prices[3],
		Volume: vol,
	}, nil
}
