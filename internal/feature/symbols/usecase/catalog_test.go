package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/feature/symbols/usecase"
	"stock_agent/internal/shared/market"
	"stock_agent/internal/shared/retry"
)

// mockSymbolRepository は SymbolRepository インターフェースのモック実装です。
type mockSymbolRepository struct {
	CountFunc   func(ctx context.Context, m market.Market) (int64, error)
	ListFunc    func(ctx context.Context, m market.Market) ([]entity.Symbol, error)
	UpsertFunc  func(ctx context.Context, m market.Market, symbols []entity.Symbol) error
	UpsertCalls int
}

func (r *mockSymbolRepository) CountSymbols(ctx context.Context, m market.Market) (int64, error) {
	if r.CountFunc != nil {
		return r.CountFunc(ctx, m)
	}
	return 0, nil
}

func (r *mockSymbolRepository) ListSymbols(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
	if r.ListFunc != nil {
		return r.ListFunc(ctx, m)
	}
	return nil, nil
}

func (r *mockSymbolRepository) UpsertSymbolInfo(ctx context.Context, m market.Market, symbols []entity.Symbol) error {
	r.UpsertCalls++
	if r.UpsertFunc != nil {
		return r.UpsertFunc(ctx, m, symbols)
	}
	return nil
}

// mockSymbolSource は SymbolSource インターフェースのモック実装です。
type mockSymbolSource struct {
	FetchFunc  func(ctx context.Context, m market.Market) ([]entity.Symbol, error)
	FetchCalls int
}

func (s *mockSymbolSource) Name() string { return "mock" }

func (s *mockSymbolSource) FetchSymbolList(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
	s.FetchCalls++
	return s.FetchFunc(ctx, m)
}

// mockResumeReader は ResumeReader インターフェースのモック実装です。
type mockResumeReader struct {
	failed     []string
	successful []string
	err        error
}

func (r *mockResumeReader) ReadFailed(market.Market) ([]string, error)     { return r.failed, r.err }
func (r *mockResumeReader) ReadSuccessful(market.Market) ([]string, error) { return r.successful, r.err }

func makeSymbols(m market.Market, n int) []entity.Symbol {
	out := make([]entity.Symbol, n)
	for i := range out {
		out[i] = entity.Symbol{Market: m, Code: fmt.Sprintf("S%04d", i)}
	}
	return out
}

// recordingSleep は待機時間を記録するだけの Sleeper を返します。
func recordingSleep(slept *[]time.Duration) retry.Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func newCatalog(repo *mockSymbolRepository, src *mockSymbolSource, resume *mockResumeReader, slept *[]time.Duration) *usecase.Catalog {
	policy := retry.Policy{MaxRetries: 3, BaseDelay: time.Second, Sleep: recordingSleep(slept)}
	return usecase.NewCatalog(repo, map[market.Market]usecase.SymbolSource{
		market.US: src,
		market.CN: src,
	}, resume, policy)
}

// TestCatalog_ResolveSymbols_LiveDegradedFallsBack は取得件数が保存済みの半分未満の状態が続くと保存済みを返すことを検証します。
func TestCatalog_ResolveSymbols_LiveDegradedFallsBack(t *testing.T) {
	stored := makeSymbols(market.US, 1000)
	repo := &mockSymbolRepository{
		CountFunc: func(ctx context.Context, m market.Market) (int64, error) { return 1000, nil },
		ListFunc:  func(ctx context.Context, m market.Market) ([]entity.Symbol, error) { return stored, nil },
	}
	src := &mockSymbolSource{
		FetchFunc: func(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
			return makeSymbols(m, 400), nil
		},
	}
	var slept []time.Duration
	c := newCatalog(repo, src, &mockResumeReader{}, &slept)

	got, err := c.ResolveSymbols(context.Background(), market.US, usecase.ModeLive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1000 {
		t.Errorf("expected stored 1000 symbols, got %d", len(got))
	}
	if src.FetchCalls != 3 {
		t.Errorf("expected 3 fetch attempts, got %d", src.FetchCalls)
	}
	if repo.UpsertCalls != 0 {
		t.Errorf("symbol table must not be updated, got %d upserts", repo.UpsertCalls)
	}
	if !reflect.DeepEqual(slept, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("unexpected backoff sleeps: %v", slept)
	}
}

// TestCatalog_ResolveSymbols_LiveRecovers は再試行中に回復した場合に保存して返すことを検証します。
func TestCatalog_ResolveSymbols_LiveRecovers(t *testing.T) {
	repo := &mockSymbolRepository{
		CountFunc: func(ctx context.Context, m market.Market) (int64, error) { return 100, nil },
	}
	calls := 0
	src := &mockSymbolSource{
		FetchFunc: func(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("timeout")
			}
			return makeSymbols(m, 60), nil
		},
	}
	var slept []time.Duration
	c := newCatalog(repo, src, &mockResumeReader{}, &slept)

	got, err := c.ResolveSymbols(context.Background(), market.US, usecase.ModeLive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 60 {
		t.Errorf("expected 60 symbols, got %d", len(got))
	}
	if repo.UpsertCalls != 1 {
		t.Errorf("expected 1 upsert, got %d", repo.UpsertCalls)
	}
}

// TestCatalog_ResolveSymbols_LiveEmptyStore は保存済みが 0 件なら件数に関係なく採用することを検証します。
func TestCatalog_ResolveSymbols_LiveEmptyStore(t *testing.T) {
	repo := &mockSymbolRepository{}
	src := &mockSymbolSource{
		FetchFunc: func(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
			return makeSymbols(m, 3), nil
		},
	}
	var slept []time.Duration
	c := newCatalog(repo, src, &mockResumeReader{}, &slept)

	got, err := c.ResolveSymbols(context.Background(), market.CN, usecase.ModeLive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"S0000", "S0001", "S0002"}) {
		t.Errorf("unexpected symbols: %v", got)
	}
	if src.FetchCalls != 1 || len(slept) != 0 {
		t.Errorf("expected a single attempt without sleeping, got %d calls, %v", src.FetchCalls, slept)
	}
}

// TestCatalog_ResolveSymbols_LiveDuplicates はページをまたいで重複した銘柄を 1 回だけ返すことを検証します。
func TestCatalog_ResolveSymbols_LiveDuplicates(t *testing.T) {
	repo := &mockSymbolRepository{}
	src := &mockSymbolSource{
		FetchFunc: func(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
			page := makeSymbols(m, 3)
			return append(page, page[1], entity.Symbol{Market: m, Code: "S0003"}), nil
		},
	}
	var slept []time.Duration
	c := newCatalog(repo, src, &mockResumeReader{}, &slept)

	got, err := c.ResolveSymbols(context.Background(), market.CN, usecase.ModeLive)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"S0000", "S0001", "S0002", "S0003"}) {
		t.Errorf("unexpected symbols: %v", got)
	}
}

// TestCatalog_ResolveSymbols_LiveErrorWithoutFallback は保存済みがなくプロバイダーも失敗した場合にエラーを返すことを検証します。
func TestCatalog_ResolveSymbols_LiveErrorWithoutFallback(t *testing.T) {
	providerErr := errors.New("provider down")
	repo := &mockSymbolRepository{}
	src := &mockSymbolSource{
		FetchFunc: func(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
			return nil, providerErr
		},
	}
	var slept []time.Duration
	c := newCatalog(repo, src, &mockResumeReader{}, &slept)

	_, err := c.ResolveSymbols(context.Background(), market.US, usecase.ModeLive)
	if !errors.Is(err, providerErr) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

// TestCatalog_ResolveSymbols_Backfill は失敗ファイルの銘柄を返すことを検証します。
func TestCatalog_ResolveSymbols_Backfill(t *testing.T) {
	resume := &mockResumeReader{failed: []string{"MSFT", "TSLA"}}
	var slept []time.Duration
	c := newCatalog(&mockSymbolRepository{}, &mockSymbolSource{}, resume, &slept)

	got, err := c.ResolveSymbols(context.Background(), market.US, usecase.ModeBackfill)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"MSFT", "TSLA"}) {
		t.Errorf("unexpected symbols: %v", got)
	}
}

// TestCatalog_ResolveSymbols_Stored は保存済み銘柄を返し、中国株のみ取得済みを除外することを検証します。
func TestCatalog_ResolveSymbols_Stored(t *testing.T) {
	tests := []struct {
		name     string
		market   market.Market
		expected []string
	}{
		{name: "cn excludes finished symbols", market: market.CN, expected: []string{"S0000", "S0002"}},
		{name: "us keeps all symbols", market: market.US, expected: []string{"S0000", "S0001", "S0002"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockSymbolRepository{
				ListFunc: func(ctx context.Context, m market.Market) ([]entity.Symbol, error) {
					return makeSymbols(m, 3), nil
				},
			}
			resume := &mockResumeReader{successful: []string{"S0001"}}
			var slept []time.Duration
			c := newCatalog(repo, &mockSymbolSource{}, resume, &slept)

			got, err := c.ResolveSymbols(context.Background(), tt.market, usecase.ModeStored)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

// TestCatalog_ResolveSymbols_UnknownMode は未知のモードでエラーになることを検証します。
func TestCatalog_ResolveSymbols_UnknownMode(t *testing.T) {
	var slept []time.Duration
	c := newCatalog(&mockSymbolRepository{}, &mockSymbolSource{}, &mockResumeReader{}, &slept)

	_, err := c.ResolveSymbols(context.Background(), market.US, usecase.Mode("weekly"))
	if !errors.Is(err, usecase.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

// TestCatalog_ResolveSymbols_NoSource はプロバイダー未登録の市場でエラーになることを検証します。
func TestCatalog_ResolveSymbols_NoSource(t *testing.T) {
	c := usecase.NewCatalog(&mockSymbolRepository{}, nil, &mockResumeReader{}, retry.Policy{MaxRetries: 1})

	_, err := c.ResolveSymbols(context.Background(), market.US, usecase.ModeLive)
	if !errors.Is(err, usecase.ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    usecase.Mode
		wantErr bool
	}{
		{"", usecase.ModeLive, false},
		{"LIVE", usecase.ModeLive, false},
		{"backfill", usecase.ModeBackfill, false},
		{" stored ", usecase.ModeStored, false},
		{"weekly", "", true},
	}
	for _, tt := range tests {
		got, err := usecase.ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
