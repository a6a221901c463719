// Package http は外部データプロバイダー向けの HTTP クライアントを提供します。
package http

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent はプロバイダーへのリクエストに付与する User-Agent です。
// 一部の API は User-Agent のないリクエストを拒否します。
const DefaultUserAgent = "stock_agent/1.0 (+daily-bars)"

// Option は NewHTTPClient の追加設定です。
type Option func(*clientOptions)

type clientOptions struct {
	maxConnsPerHost int
	userAgent       string
}

// WithMaxConnsPerHost は同一ホストへの同時接続数を n に制限します。
// 銘柄ごとの並行取得がプロバイダーの許可数を超えて接続を張らないようにします。
func WithMaxConnsPerHost(n int) Option {
	return func(o *clientOptions) { o.maxConnsPerHost = n }
}

// WithUserAgent は既定の User-Agent を置き換えます。
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) { o.userAgent = ua }
}

// NewHTTPClient は外部API用の HTTP クライアントを生成します。
//
//   - Client.Timeout: リクエスト全体のタイムアウト (呼び出し元から渡す)
//   - MaxConnsPerHost: 0 の場合は無制限
//   - User-Agent: リクエスト側で指定がなければ DefaultUserAgent
//
// http.DefaultClient はタイムアウトが無制限なので使わない。
func NewHTTPClient(timeout time.Duration, opts ...Option) *http.Client {
	o := clientOptions{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(&o)
	}

	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: max(o.maxConnsPerHost, http.DefaultMaxIdleConnsPerHost),
		MaxConnsPerHost:     o.maxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: t, userAgent: o.userAgent},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	// RoundTripper は受け取ったリクエストを書き換えてはならない
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}
