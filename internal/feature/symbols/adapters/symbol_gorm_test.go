package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"stock_agent/internal/feature/symbols/domain/entity"
	"stock_agent/internal/shared/market"
)

// setupTestDB prepares an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to initialize test database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	for _, m := range market.All() {
		require.NoError(t, EnsureSchema(db, m), "failed to migrate table")
	}
	return db
}

func TestSymbolGorm_UpsertAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepository(db)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }
	ctx := context.Background()

	err := repo.UpsertSymbolInfo(ctx, market.CN, []entity.Symbol{
		{Code: "600000", Name: "浦发银行", Exchange: "SH"},
		{Code: "000001", Exchange: "SZ"},
	})
	require.NoError(t, err)

	n, err := repo.CountSymbols(ctx, market.CN)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CountSymbols(ctx, market.US)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := repo.ListSymbols(ctx, market.CN)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "000001", got[0].Code)
	assert.Equal(t, "000001", got[0].Name, "empty name falls back to code")
	assert.Equal(t, market.CN, got[0].Market)
	assert.True(t, fixed.Equal(got[1].UpdateTime))
}

func TestSymbolGorm_UpsertOverwrites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.UpsertSymbolInfo(ctx, market.US, []entity.Symbol{{Code: "AAPL", Name: "Apple", Exchange: "NASDAQ"}}))
	require.NoError(t, repo.UpsertSymbolInfo(ctx, market.US, []entity.Symbol{
		{Code: "AAPL", Name: "Apple Inc.", Exchange: "NASDAQ"},
		{Code: "AAPL", Name: "Apple Inc. (dup)", Exchange: "NASDAQ"},
	}))

	got, err := repo.ListSymbols(ctx, market.US)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Apple Inc. (dup)", got[0].Name)
}

func TestSymbolGorm_UpsertEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSymbolRepository(db)

	require.NoError(t, repo.UpsertSymbolInfo(context.Background(), market.US, nil))
}
