// Package adapters はsymbolsフィーチャーのリポジトリ実装を提供します。
package adapters

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/feature/symbols/usecase"
	"stock_agent/internal/shared/market"
)

// symbolGorm はSymbolRepositoryインターフェースのgorm実装です。
type symbolGorm struct {
	db  *gorm.DB
	now func() time.Time
}

var _ usecase.SymbolRepository = (*symbolGorm)(nil)

// NewSymbolRepository は指定されたDB接続でsymbolGormリポジトリの新しいインスタンスを生成します。
func NewSymbolRepository(db *gorm.DB) *symbolGorm {
	return &symbolGorm{db: db, now: time.Now}
}

// SymbolModel は {market}_stocks_info の 1 行です。
type SymbolModel struct {
	Symbol     string `gorm:"primaryKey;size:32"`
	Name       string `gorm:"size:255"`
	Exchange   string `gorm:"size:32"`
	Market     string `gorm:"size:8;not null"`
	UpdateTime time.Time
}

// EnsureSchema は市場 m の銘柄テーブルを作成します。
func EnsureSchema(db *gorm.DB, m market.Market) error {
	return db.Table(m.InfoTable()).AutoMigrate(&SymbolModel{})
}

// CountSymbols は保存済みの銘柄数を返します。
func (r *symbolGorm) CountSymbols(ctx context.Context, m market.Market) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Table(m.InfoTable()).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// ListSymbols はコード順にすべての銘柄を返します。
func (r *symbolGorm) ListSymbols(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
	var rows []SymbolModel
	if err := r.db.WithContext(ctx).
		Table(m.InfoTable()).
		Order("symbol ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.Symbol, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.Symbol{
			Market:     m,
			Code:       row.Symbol,
			Name:       row.Name,
			Exchange:   row.Exchange,
			UpdateTime: row.UpdateTime,
		})
	}
	return out, nil
}

// UpsertSymbolInfo は symbol をキーに銘柄情報を挿入または更新し、update_time を記録します。
// 名前が空の場合はコードを名前として保存します。
func (r *symbolGorm) UpsertSymbolInfo(ctx context.Context, m market.Market, symbols []entity.Symbol) error {
	if len(symbols) == 0 {
		return nil
	}
	now := r.now()
	seen := make(map[string]int, len(symbols))
	rows := make([]SymbolModel, 0, len(symbols))
	for _, s := range symbols {
		name := s.Name
		if name == "" {
			name = s.Code
		}
		row := SymbolModel{
			Symbol:     s.Code,
			Name:       name,
			Exchange:   s.Exchange,
			Market:     string(m),
			UpdateTime: now,
		}
		// 同じ INSERT 内での重複キーは後勝ちにまとめる
		if i, ok := seen[s.Code]; ok {
			rows[i] = row
			continue
		}
		seen[s.Code] = len(rows)
		rows = append(rows, row)
	}

	return r.db.WithContext(ctx).Table(m.InfoTable()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "exchange", "market", "update_time"}),
	}).CreateInBatches(&rows, 500).Error
}
