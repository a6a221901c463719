package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoData はプロバイダーが銘柄の日足を返さなかったことを示します。
	ErrNoData = errors.New("no data returned")
	// ErrNoRoute は市場に取得元が設定されていないことを示します。
	ErrNoRoute = errors.New("no history provider for market")
)

// BatchError はバッチ内の一部またはすべての銘柄の取得失敗を表します。
// 成功した銘柄の結果は FetchBatch の戻り値に含まれます。
type BatchError struct {
	Failures map[string]error
}

// Error は失敗銘柄数と先頭数件の内容を返します。
func (e *BatchError) Error() string {
	symbols := e.Symbols()
	const shown = 3
	parts := make([]string, 0, shown)
	for i, s := range symbols {
		if i == shown {
			parts = append(parts, "...")
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %v", s, e.Failures[s]))
	}
	return fmt.Sprintf("%d symbols failed: %s", len(symbols), strings.Join(parts, "; "))
}

// Symbols は失敗した銘柄をソートして返します。
func (e *BatchError) Symbols() []string {
	out := make([]string, 0, len(e.Failures))
	for s := range e.Failures {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
