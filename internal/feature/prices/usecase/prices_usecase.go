// Package usecase は日足価格の加工と参照のビジネスロジックを実装します。
package usecase

import (
	"context"
	"fmt"

	"stock_agent/internal/feature/prices/domain/entity"
	"stock_agent/internal/shared/market"
)

const (
	// DefaultLimit は日足の既定返却件数です。
	DefaultLimit = 200
	// MaxLimit は日足の最大返却件数です。
	MaxLimit = 5000
)

// PriceRepository は日足データの永続化レイヤーを抽象化します。
// Goの慣例に従い、インターフェースは利用者（usecase）側で定義します。
type PriceRepository interface {
	// UpsertBars は (symbol, date) をキーに日足を挿入または上書きします。
	UpsertBars(ctx context.Context, m market.Market, symbol string, bars []entity.Bar) error
	// FindBars は直近 limit 件の日足を日付昇順で返します。
	FindBars(ctx context.Context, m market.Market, symbol string, limit int) ([]entity.Bar, error)
}

// pricesUsecase は保存済み日足の参照ユースケースです。
type pricesUsecase struct {
	repo PriceRepository
}

// NewPricesUsecase は pricesUsecase の新しいインスタンスを生成します。
func NewPricesUsecase(repo PriceRepository) *pricesUsecase {
	return &pricesUsecase{repo: repo}
}

// GetBars は市場と銘柄を指定して保存済みの日足を取得します。
func (u *pricesUsecase) GetBars(ctx context.Context, marketName, symbol string, limit int) ([]entity.Bar, error) {
	m, err := market.Parse(marketName)
	if err != nil {
		return nil, err
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidSymbol)
	}
	if limit <= 0 || limit > MaxLimit {
		limit = DefaultLimit
	}
	return u.repo.FindBars(ctx, m, symbol, limit)
}
