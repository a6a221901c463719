// Package handler はプラットフォームレベルのエンドポイント用HTTPハンドラーを提供します。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// checkTimeout は依存先 1 件あたりの疎通確認の上限時間です。
const checkTimeout = 2 * time.Second

// Check は依存先（DB, Redis など）の疎通を確認します。
type Check func(ctx context.Context) error

// Health は /healthz エンドポイントのハンドラーを返します。
// GET では checks を順に実行し、失敗した依存先があれば 503 と名前ごとのエラーを返します。
// HEAD と OPTIONS は依存先を確認せずに応答し、常にキャッシュを防止します。
func Health(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 明示的にキャッシュを防止
		c.Header("Cache-Control", "no-store")

		switch c.Request.Method {
		case http.MethodHead:
			c.Status(http.StatusOK)
			return
		case http.MethodOptions:
			c.Status(http.StatusNoContent)
			return
		}

		failed := gin.H{}
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "errors": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
