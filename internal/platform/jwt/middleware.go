// Package jwtmw はタスク起動 API を保護する Bearer トークン認証を提供します。
package jwtmw

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextSubject はトークンの sub をコンテキストに保存するキーです。
const ContextSubject = "subject"

// AuthRequired は HS256 で署名された JWT を検証する Gin ミドルウェアを返します。
// secret が空の場合はサーバー設定の不備として 500 を返します。
func AuthRequired(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		// 1. Authorization ヘッダーを取得
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")

		if len(key) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server misconfigured"})
			return
		}

		// 2. 署名を検証（HMAC のみ許可）
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			slog.Warn("rejected bearer token", "error", err, "remote_addr", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// 3. sub をハンドラーから参照できるようにする
		c.Set(ContextSubject, claims.Subject)
		c.Next()
	}
}
