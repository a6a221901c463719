package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stock_agent/internal/feature/prices/domain/entity"
	symbolentity "stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/platform/externalapi/twelvedata/dto"
	"stock_agent/internal/shared/market"
)

// maxOutputSize は time_series で 1 リクエストあたりに取得できる最大件数です。
const maxOutputSize = 5000

// commonStock は /stocks の type のうち取得対象とする種別です。
const commonStock = "Common Stock"

// TwelveDataMarket はTwelve Data外部APIから米国株の日足と銘柄一覧を取得します。
// 1 リクエスト 1 銘柄のため per_symbol の取得方式で使います。
type TwelveDataMarket struct {
	cfg    Config
	client *http.Client
}

// NewTwelveDataMarket は指定された設定とHTTPクライアントでTwelveDataMarketの新しいインスタンスを生成します。
func NewTwelveDataMarket(cfg Config, client *http.Client) *TwelveDataMarket {
	return &TwelveDataMarket{cfg: cfg, client: client}
}

// Name はレート制限の単位となるプロバイダー名です。
func (t *TwelveDataMarket) Name() string { return "twelvedata" }

// FetchHistory は各銘柄の start 以降の日足を取得します。1 銘柄でも失敗すればエラーを返します。
func (t *TwelveDataMarket) FetchHistory(ctx context.Context, symbols []string, start time.Time) (map[string][]entity.Bar, error) {
	out := make(map[string][]entity.Bar, len(symbols))
	for _, s := range symbols {
		bars, err := t.GetTimeSeries(ctx, s, start)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s, err)
		}
		out[s] = bars
	}
	return out, nil
}

// GetTimeSeries はTwelve Data APIから1銘柄の日足を取得し、entity.Barのスライスとして返します。
func (t *TwelveDataMarket) GetTimeSeries(ctx context.Context, symbol string, start time.Time) ([]entity.Bar, error) {
	q := url.Values{}
	// クエリパラメータを追加
	q.Set("symbol", symbol)
	q.Set("interval", "1day")
	q.Set("start_date", start.Format("2006-01-02"))
	q.Set("outputsize", strconv.Itoa(maxOutputSize))
	q.Set("order", "ASC")
	q.Set("apikey", t.cfg.TwelveDataAPIKey)

	var body dto.TimeSeriesResponse
	if err := t.get(ctx, "/time_series", q, &body); err != nil {
		return nil, err
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("twelvedata: %s", body.Message)
	}

	bars := make([]entity.Bar, 0, len(body.Values))
	for _, v := range body.Values {

		// タイムスタンプをパース
		tm, err := time.Parse("2006-01-02 15:04:05", v.Datetime)
		if err != nil {
			tm, err = time.Parse("2006-01-02", v.Datetime)
			if err != nil {
				return nil, fmt.Errorf("parse time %q: %w", v.Datetime, err)
			}
		}
		o, err := parsePrice("open", v.Open)
		if err != nil {
			return nil, err
		}
		h, err := parsePrice("high", v.High)
		if err != nil {
			return nil, err
		}
		l, err := parsePrice("low", v.Low)
		if err != nil {
			return nil, err
		}
		c, err := parsePrice("close", v.Close)
		if err != nil {
			return nil, err
		}
		// 出来高は指数などで欠けることがある
		var vol *int64
		if v.Volume != "" {
			n, err := strconv.ParseInt(v.Volume, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse volume %q: %w", v.Volume, err)
			}
			vol = &n
		}

		// ドメインエンティティに変換
		bars = append(bars, entity.Bar{
			Symbol: symbol,
			Date:   tm,
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: vol,
		})
	}
	return bars, nil
}

// FetchSymbolList は /stocks から普通株の一覧を取得します。米国市場のみ対応しています。
func (t *TwelveDataMarket) FetchSymbolList(ctx context.Context, m market.Market) ([]symbolentity.Symbol, error) {
	if m != market.US {
		return nil, fmt.Errorf("twelvedata: %w: %s", market.ErrUnknownMarket, m)
	}
	q := url.Values{}
	q.Set("country", t.cfg.Country)
	q.Set("type", commonStock)
	q.Set("apikey", t.cfg.TwelveDataAPIKey)

	var body dto.StocksResponse
	if err := t.get(ctx, "/stocks", q, &body); err != nil {
		return nil, err
	}
	if body.Status == "error" {
		return nil, fmt.Errorf("twelvedata: %s", body.Message)
	}

	out := make([]symbolentity.Symbol, 0, len(body.Data))
	for _, d := range body.Data {
		if d.Type != "" && d.Type != commonStock {
			continue
		}
		out = append(out, symbolentity.Symbol{
			Market:   m,
			Code:     d.Symbol,
			Name:     d.Name,
			Exchange: d.Exchange,
		})
	}
	return out, nil
}

func (t *TwelveDataMarket) get(ctx context.Context, path string, q url.Values, out any) error {
	// URLを生成
	u := fmt.Sprintf("%s%s?%s", t.cfg.BaseURL, path, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if res.StatusCode >= 400 {
		return fmt.Errorf("twelvedata http %d", res.StatusCode)
	}

	// JSONレスポンスをDTOにデコード
	return json.NewDecoder(res.Body).Decode(out)
}

func parsePrice(field, s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return &v, nil
}
