// Package usecase は取得対象銘柄の解決ロジックを実装します。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/retry"
)

// Mode は銘柄リストの解決方法です。
type Mode string

const (
	// ModeLive はプロバイダーから最新の銘柄リストを取得します。
	ModeLive Mode = "live"
	// ModeBackfill は前回失敗した銘柄のみを対象にします。
	ModeBackfill Mode = "backfill"
	// ModeStored は保存済みの銘柄テーブルを使います。
	ModeStored Mode = "stored"
)

// ParseMode は文字列を Mode に変換します。空文字は ModeLive です。
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeLive, nil
	case ModeLive, ModeBackfill, ModeStored:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// degradedRatio を下回る件数しか取得できなかった場合は劣化とみなします。
const degradedRatio = 0.5

// SymbolRepository は銘柄テーブルへのアクセスを抽象化します。
// Goの慣例に従い、インターフェースは利用者（usecase）側で定義します。
type SymbolRepository interface {
	CountSymbols(ctx context.Context, m market.Market) (int64, error)
	ListSymbols(ctx context.Context, m market.Market) ([]entity.Symbol, error)
	UpsertSymbolInfo(ctx context.Context, m market.Market, symbols []entity.Symbol) error
}

// SymbolSource は外部プロバイダーの銘柄一覧取得機能です。
type SymbolSource interface {
	Name() string
	FetchSymbolList(ctx context.Context, m market.Market) ([]entity.Symbol, error)
}

// ResumeReader は前回実行時の結果ファイルを読み込みます。
type ResumeReader interface {
	ReadFailed(m market.Market) ([]string, error)
	ReadSuccessful(m market.Market) ([]string, error)
}

// Catalog は取得対象の銘柄リストを解決します。
type Catalog struct {
	repo    SymbolRepository
	sources map[market.Market]SymbolSource
	resume  ResumeReader
	policy  retry.Policy
}

// NewCatalog は Catalog を生成します。policy はライブ取得が劣化した場合の再試行設定です。
func NewCatalog(repo SymbolRepository, sources map[market.Market]SymbolSource, resume ResumeReader, policy retry.Policy) *Catalog {
	return &Catalog{
		repo:    repo,
		sources: sources,
		resume:  resume,
		policy:  policy,
	}
}

// ResolveSymbols は mode に従って市場 m の銘柄コードを返します。
func (c *Catalog) ResolveSymbols(ctx context.Context, m market.Market, mode Mode) ([]string, error) {
	switch mode {
	case ModeLive, "":
		return c.resolveLive(ctx, m)
	case ModeBackfill:
		codes, err := c.resume.ReadFailed(m)
		if err != nil {
			return nil, fmt.Errorf("read failed symbols: %w", err)
		}
		return codes, nil
	case ModeStored:
		return c.resolveStored(ctx, m)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// resolveLive はプロバイダーから銘柄リストを取得します。
// 保存済み件数の半分未満しか取れない状態が続いた場合は保存済みの銘柄を返し、テーブルは更新しません。
func (c *Catalog) resolveLive(ctx context.Context, m market.Market) ([]string, error) {
	src, ok := c.sources[m]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, m)
	}

	stored, err := c.repo.CountSymbols(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("count stored symbols: %w", err)
	}

	fetched, err := retry.WithBackoff(ctx, c.policy, func(ctx context.Context) ([]entity.Symbol, error) {
		got, err := src.FetchSymbolList(ctx, m)
		if err != nil {
			return nil, err
		}
		if stored > 0 && float64(len(got)) < float64(stored)*degradedRatio {
			return nil, fmt.Errorf("%w: got %d, stored %d", ErrDegradedCatalog, len(got), stored)
		}
		return got, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		slog.Warn("symbol list unavailable, falling back to stored symbols",
			"market", m,
			"source", src.Name(),
			"stored", stored,
			"degraded", errors.Is(err, ErrDegradedCatalog),
			"error", err,
		)
		if stored == 0 {
			return nil, fmt.Errorf("fetch symbol list from %s: %w", src.Name(), err)
		}
		symbols, lerr := c.repo.ListSymbols(ctx, m)
		if lerr != nil {
			return nil, fmt.Errorf("list stored symbols: %w", lerr)
		}
		return entity.Codes(symbols), nil
	}

	if err := c.repo.UpsertSymbolInfo(ctx, m, fetched); err != nil {
		return nil, fmt.Errorf("save symbol list: %w", err)
	}
	codes := entity.Codes(fetched)
	slog.Info("symbol list refreshed", "market", m, "source", src.Name(), "count", len(codes), "duplicates", len(fetched)-len(codes))
	return codes, nil
}

// resolveStored は保存済みの銘柄を返します。中国株は取得済みファイルにある銘柄を除外します。
func (c *Catalog) resolveStored(ctx context.Context, m market.Market) ([]string, error) {
	symbols, err := c.repo.ListSymbols(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("list stored symbols: %w", err)
	}
	codes := entity.Codes(symbols)
	if m != market.CN {
		return codes, nil
	}

	done, err := c.resume.ReadSuccessful(m)
	if err != nil {
		return nil, fmt.Errorf("read successful symbols: %w", err)
	}
	if len(done) == 0 {
		return codes, nil
	}
	finished := make(map[string]struct{}, len(done))
	for _, s := range done {
		finished[s] = struct{}{}
	}
	out := codes[:0]
	for _, code := range codes {
		if _, ok := finished[code]; !ok {
			out = append(out, code)
		}
	}
	return out, nil
}
