// Package handler はpricesフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"stock_agent/internal/feature/prices/domain/entity"
	"stock_agent/internal/feature/prices/transport/http/dto"
	"stock_agent/internal/feature/prices/usecase"
	"stock_agent/internal/shared/market"
)

// PricesUsecase は日足参照のユースケースインターフェースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type PricesUsecase interface {
	GetBars(ctx context.Context, marketName, symbol string, limit int) ([]entity.Bar, error)
}

// PricesHandler は日足データのHTTPリクエストを処理します。
type PricesHandler struct {
	uc PricesUsecase
}

// NewPricesHandler は PricesHandler の新しいインスタンスを生成します。
func NewPricesHandler(uc PricesUsecase) *PricesHandler {
	return &PricesHandler{uc: uc}
}

// GetBarsHandler は保存済みの日足と移動平均をJSONで返します。
//
// エンドポイント例:
// GET /api/stocks/us/AAPL/bars?limit=200
func (h *PricesHandler) GetBarsHandler(c *gin.Context) {
	// 不正な値は 0 となり usecase 側で既定値に置き換わる
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))

	bars, err := h.uc.GetBars(c.Request.Context(), c.Param("market"), c.Param("symbol"), limit)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, market.ErrUnknownMarket) || errors.Is(err, usecase.ErrInvalidSymbol) {
			status = http.StatusBadRequest
		}
		c.JSON(status, dto.ErrorResponse{Error: err.Error()})
		return
	}

	out := make([]dto.BarResponse, 0, len(bars))
	for _, b := range bars {
		out = append(out, dto.BarResponse{
			Date:   b.Date.UTC().Format("2006-01-02"),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
			MA5:    b.MA5,
			MA10:   b.MA10,
			MA20:   b.MA20,
			MA60:   b.MA60,
			MA200:  b.MA200,
		})
	}

	c.JSON(http.StatusOK, out)
}
