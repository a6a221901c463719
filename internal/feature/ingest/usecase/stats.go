package usecase

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"stock_agent/internal/shared/market"
)

// DownloadStats は 1 回のダウンロード実行の集計です。
type DownloadStats struct {
	mu       sync.Mutex
	market   market.Market
	total    int
	success  int
	failed   map[string]struct{}
	byReason map[string][]string
}

// NewDownloadStats は対象銘柄数 total の集計を生成します。
func NewDownloadStats(m market.Market, total int) *DownloadStats {
	return &DownloadStats{
		market:   m,
		total:    total,
		failed:   make(map[string]struct{}),
		byReason: make(map[string][]string),
	}
}

// AddSuccess は成功銘柄数を n 件加算します。
func (s *DownloadStats) AddSuccess(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.success += n
}

// AddFailure は reason で失敗した銘柄を記録します。同じ銘柄は 1 回だけ数えます。
func (s *DownloadStats) AddFailure(reason string, symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := s.failed[sym]; ok {
			continue
		}
		s.failed[sym] = struct{}{}
		s.byReason[reason] = append(s.byReason[reason], sym)
	}
}

// SuccessRate は成功率をパーセントで返します。対象が 0 件の場合は 0 です。
func (s *DownloadStats) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total == 0 {
		return 0
	}
	return float64(s.success) / float64(s.total) * 100
}

// Summary は実行結果を人が読める形式で返します。
func (s *DownloadStats) Summary() string {
	rate := s.SuccessRate()

	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s download: total=%d success=%d failed=%d rate=%.2f%%",
		s.market, s.total, s.success, len(s.failed), rate)

	reasons := make([]string, 0, len(s.byReason))
	for r := range s.byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "\n  %s: %d (%s)", r, len(s.byReason[r]), strings.Join(s.byReason[r], ", "))
	}
	return b.String()
}

// LogAttrs は slog に渡す集計属性を返します。
func (s *DownloadStats) LogAttrs() []any {
	rate := s.SuccessRate()

	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make([]any, 0, len(s.byReason))
	for r, syms := range s.byReason {
		counts = append(counts, slog.Int(r, len(syms)))
	}
	return []any{
		slog.String("market", s.market.String()),
		slog.Int("total", s.total),
		slog.Int("success", s.success),
		slog.Int("failed", len(s.failed)),
		slog.String("success_rate", fmt.Sprintf("%.2f%%", rate)),
		slog.Group("failures_by_reason", counts...),
	}
}
