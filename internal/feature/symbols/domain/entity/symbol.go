// Package entity defines the domain models for the symbols feature.
package entity

import (
	"time"

	"stock_agent/internal/shared/market"
)

// Symbol is one tradable security in a market's universe.
// It is identified by (Market, Code).
type Symbol struct {
	Market     market.Market
	Code       string // e.g. "AAPL", "600000"
	Name       string
	Exchange   string // e.g. "NASDAQ", "SH", "SZ", "BJ"
	UpdateTime time.Time
}

// Codes returns the distinct codes of the given symbols in first-seen order.
// Paginated provider listings can repeat a code across pages.
func Codes(symbols []Symbol) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s.Code]; ok {
			continue
		}
		seen[s.Code] = struct{}{}
		out = append(out, s.Code)
	}
	return out
}
