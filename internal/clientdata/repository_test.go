package clientdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE alphavantage_daily (symbol TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE alphavantage_quote (symbol TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE alphavantage_search (query TEXT PRIMARY KEY, data TEXT NOT NULL, expires_at INTEGER NOT NULL);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type bars struct {
	Symbol string    `json:"symbol"`
	Closes []float64 `json:"closes"`
}

func TestStoreAndGetIfFresh(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableDaily, "IBM", bars{"IBM", []float64{1, 2}}, time.Hour))

	raw, err := repo.GetIfFresh(ctx, TableDaily, "IBM")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var got bars
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []float64{1, 2}, got.Closes)

	raw, err = repo.GetIfFresh(ctx, TableDaily, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestStore_Overwrites(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableQuote, "IBM", map[string]float64{"price": 1}, time.Hour))
	require.NoError(t, repo.Store(ctx, TableQuote, "IBM", map[string]float64{"price": 2}, time.Hour))

	raw, err := repo.Get(ctx, TableQuote, "IBM")
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":2}`, string(raw))
}

func TestExpiredEntryStillReadableAsFallback(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	now := time.Now()
	repo.now = func() time.Time { return now.Add(-2 * time.Hour) }
	require.NoError(t, repo.Store(ctx, TableSearch, "apple", []string{"AAPL"}, time.Hour))
	repo.now = func() time.Time { return now }

	fresh, err := repo.GetIfFresh(ctx, TableSearch, "apple")
	require.NoError(t, err)
	assert.Nil(t, fresh)

	stale, err := repo.Get(ctx, TableSearch, "apple")
	require.NoError(t, err)
	assert.JSONEq(t, `["AAPL"]`, string(stale))

	e, err := repo.Lookup(ctx, TableSearch, "apple")
	require.NoError(t, err)
	assert.False(t, e.Fresh(now))
}

func TestInvalidTable(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	err := repo.Store(ctx, "users; DROP TABLE x", "k", 1, time.Hour)
	assert.Error(t, err)
	_, err = repo.Get(ctx, "nope", "k")
	assert.Error(t, err)
	_, err = repo.DeleteExpired(ctx, "nope")
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableDaily, "IBM", 1, time.Hour))
	require.NoError(t, repo.Delete(ctx, TableDaily, "IBM"))

	raw, err := repo.Get(ctx, TableDaily, "IBM")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestDeleteAllExpired(t *testing.T) {
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Store(ctx, TableDaily, "OLD", 1, -time.Hour))
	require.NoError(t, repo.Store(ctx, TableDaily, "NEW", 1, time.Hour))
	require.NoError(t, repo.Store(ctx, TableQuote, "OLD", 1, -time.Hour))

	results, err := repo.DeleteAllExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[TableDaily])
	assert.Equal(t, int64(1), results[TableQuote])
	assert.Equal(t, int64(0), results[TableSearch])

	raw, err := repo.Get(ctx, TableDaily, "NEW")
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
