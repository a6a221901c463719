package adapters

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock_agent/internal/feature/prices/domain/entity"
	"stock_agent/internal/feature/prices/usecase"
	"stock_agent/internal/shared/market"
)

// upsertBatchSize は 1 回の INSERT に含める最大行数です。
const upsertBatchSize = 500

type priceGorm struct {
	db *gorm.DB
}

var _ usecase.PriceRepository = (*priceGorm)(nil)

func NewPriceRepository(db *gorm.DB) *priceGorm {
	return &priceGorm{db: db}
}

// PriceModel は {market}_stock_prices の 1 行です。テーブル名は市場ごとに切り替えます。
type PriceModel struct {
	Symbol string    `gorm:"primaryKey;size:32"`
	Date   time.Time `gorm:"primaryKey"`

	Open   *float64
	High   *float64
	Low    *float64
	Close  *float64
	Volume *int64

	MA5   *float64 `gorm:"column:ma5"`
	MA10  *float64 `gorm:"column:ma10"`
	MA20  *float64 `gorm:"column:ma20"`
	MA60  *float64 `gorm:"column:ma60"`
	MA200 *float64 `gorm:"column:ma200"`
}

// updateColumns は競合時に上書きする列です。nil も上書きします。
var updateColumns = []string{
	"open", "high", "low", "close", "volume",
	"ma5", "ma10", "ma20", "ma60", "ma200",
}

// EnsureSchema は市場 m の価格テーブルと symbol/date のインデックスを作成します。
func EnsureSchema(db *gorm.DB, m market.Market) error {
	table := m.PriceTable()
	if err := db.Table(table).AutoMigrate(&PriceModel{}); err != nil {
		return err
	}
	for _, col := range []string{"symbol", "date"} {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", table, col, table, col)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index on %s.%s: %w", table, col, err)
		}
	}
	return nil
}

func toModel(symbol string, e entity.Bar) PriceModel {
	return PriceModel{
		Symbol: symbol,
		Date:   e.Date,
		Open:   e.Open,
		High:   e.High,
		Low:    e.Low,
		Close:  e.Close,
		Volume: e.Volume,
		MA5:    e.MA5,
		MA10:   e.MA10,
		MA20:   e.MA20,
		MA60:   e.MA60,
		MA200:  e.MA200,
	}
}

func toEntity(m PriceModel) entity.Bar {
	return entity.Bar{
		Symbol: m.Symbol,
		Date:   m.Date.UTC(),
		Open:   m.Open,
		High:   m.High,
		Low:    m.Low,
		Close:  m.Close,
		Volume: m.Volume,
		MA5:    m.MA5,
		MA10:   m.MA10,
		MA20:   m.MA20,
		MA60:   m.MA60,
		MA200:  m.MA200,
	}
}

// UpsertBars は (symbol, date) の競合時に全列を上書きします。読み取りは行いません。
func (r *priceGorm) UpsertBars(ctx context.Context, m market.Market, symbol string, bars []entity.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	ms := make([]PriceModel, 0, len(bars))
	for _, b := range bars {
		ms = append(ms, toModel(symbol, b))
	}

	return r.db.WithContext(ctx).Table(m.PriceTable()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).CreateInBatches(&ms, upsertBatchSize).Error
}

// FindBars は直近 limit 件を日付昇順で返します。
func (r *priceGorm) FindBars(ctx context.Context, m market.Market, symbol string, limit int) ([]entity.Bar, error) {
	var rows []PriceModel
	q := r.db.WithContext(ctx).Table(m.PriceTable()).
		Where("symbol = ?", symbol).
		Order("date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.Bar, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = toEntity(row)
	}
	return out, nil
}
