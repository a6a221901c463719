package jwtmw

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const testSecret = "task-trigger-secret"

// signed はテスト用に secret で署名した HS256 トークンを返します。
func signed(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func unsigned(t *testing.T) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return s
}

func TestAuthRequired(t *testing.T) {
	issued, err := NewGenerator(testSecret, time.Hour).GenerateToken("cron-cn")
	require.NoError(t, err)

	tests := []struct {
		name        string
		secret      string
		header      string
		wantStatus  int
		wantSubject string
	}{
		{name: "no header", secret: testSecret, wantStatus: http.StatusUnauthorized},
		{name: "basic auth", secret: testSecret, header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "lowercase bearer", secret: testSecret, header: "bearer abc", wantStatus: http.StatusUnauthorized},
		{name: "malformed token", secret: testSecret, header: "Bearer not.a.token", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", secret: testSecret, header: "Bearer " + signed(t, "other", "ops", time.Hour), wantStatus: http.StatusUnauthorized},
		{name: "expired", secret: testSecret, header: "Bearer " + signed(t, testSecret, "ops", -time.Hour), wantStatus: http.StatusUnauthorized},
		{name: "alg none", secret: testSecret, header: "Bearer " + unsigned(t), wantStatus: http.StatusUnauthorized},
		{name: "server secret missing", secret: "", header: "Bearer " + signed(t, testSecret, "ops", time.Hour), wantStatus: http.StatusInternalServerError},
		{name: "valid", secret: testSecret, header: "Bearer " + signed(t, testSecret, "ops", time.Hour), wantStatus: http.StatusOK, wantSubject: "ops"},
		{name: "issued by generator", secret: testSecret, header: "Bearer " + issued, wantStatus: http.StatusOK, wantSubject: "cron-cn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/tasks/download", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			AuthRequired(tt.secret)(c)

			if tt.wantSubject == "" {
				assert.True(t, c.IsAborted())
				assert.Equal(t, tt.wantStatus, w.Code)
				return
			}
			require.False(t, c.IsAborted(), w.Body.String())
			assert.Equal(t, tt.wantSubject, c.GetString(ContextSubject))
		})
	}
}
