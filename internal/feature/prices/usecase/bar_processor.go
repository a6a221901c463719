package usecase

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"stock_agent/internal/feature/prices/domain/entity"
)

// BarProcessor は取得した生データを正規化し、移動平均を付与します。
type BarProcessor struct{}

// NewBarProcessor は BarProcessor を生成します。
func NewBarProcessor() *BarProcessor {
	return &BarProcessor{}
}

// Process は raw を日付昇順に整列し、終値のない行を除いたうえで移動平均を計算します。
//
// 行数 n が期間 w に満たない場合は期間 min(n, w) の平均で代用し、警告を返します。
// 全行に終値がない場合は raw をそのまま返します。
func (p *BarProcessor) Process(raw []entity.Bar) ([]entity.Bar, []string) {
	if len(raw) == 0 {
		return []entity.Bar{}, nil
	}

	hasClose := false
	for _, b := range raw {
		if b.Close != nil {
			hasClose = true
			break
		}
	}
	if !hasClose {
		return raw, []string{"close column missing, moving averages not computed"}
	}

	bars := normalize(raw)
	n := len(bars)

	var warnings []string
	closes := make([]decimal.Decimal, n)
	for i, b := range bars {
		closes[i] = decimal.NewFromFloat(*b.Close)
	}

	for _, w := range entity.MAWindows {
		e := w
		if n < w {
			e = n
			warnings = append(warnings, fmt.Sprintf("only %d periods available, using MA%d for MA%d", n, n, w))
		}
		sum := decimal.Zero
		for i := 0; i < n; i++ {
			sum = sum.Add(closes[i])
			if i >= e {
				sum = sum.Sub(closes[i-e])
			}
			if i+1 < e {
				continue
			}
			v, _ := sum.Div(decimal.NewFromInt(int64(e))).Round(2).Float64()
			*bars[i].MA(w) = &v
		}
	}
	return bars, warnings
}

// normalize は日付を UTC の日単位に切り詰め、価格を小数第 2 位に丸めます。
// 負の出来高は nil に、同一日付の重複は後勝ちで 1 行にまとめます。
func normalize(raw []entity.Bar) []entity.Bar {
	byDate := make(map[time.Time]int, len(raw))
	out := make([]entity.Bar, 0, len(raw))
	for _, r := range raw {
		if r.Close == nil {
			continue
		}
		b := entity.Bar{
			Symbol: r.Symbol,
			Date:   truncateDay(r.Date),
			Open:   round2(r.Open),
			High:   round2(r.High),
			Low:    round2(r.Low),
			Close:  round2(r.Close),
		}
		if r.Volume != nil && *r.Volume >= 0 {
			v := *r.Volume
			b.Volume = &v
		}
		if i, ok := byDate[b.Date]; ok {
			out[i] = b
			continue
		}
		byDate[b.Date] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func round2(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r, _ := decimal.NewFromFloat(*v).Round(2).Float64()
	return &r
}
