// Package clientdata persists raw responses of external market data APIs
// so that a failed or rate-limited call can fall back to the last good
// payload. Every row is a JSON blob with an expiry timestamp.
package clientdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Cache tables in client_data.db
const (
	TableDaily  = "alphavantage_daily"
	TableQuote  = "alphavantage_quote"
	TableSearch = "alphavantage_search"
	TableFIGI   = "openfigi_mapping"
)

// AllTables lists every cache table, in cleanup order
var AllTables = []string{TableDaily, TableQuote, TableSearch, TableFIGI}

// keyColumns doubles as the table allow-list; names are interpolated
// into SQL
var keyColumns = map[string]string{
	TableDaily:  "symbol",
	TableQuote:  "symbol",
	TableSearch: "query",
	TableFIGI:   "identifier",
}

// Entry is a cached payload with its expiry
type Entry struct {
	Data      json.RawMessage
	ExpiresAt time.Time
}

// Fresh reports whether the entry has not yet expired at now
func (e *Entry) Fresh(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

// Repository reads and writes cached API payloads
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a client data repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func keyColumn(table string) (string, error) {
	col, ok := keyColumns[table]
	if !ok {
		return "", fmt.Errorf("invalid table name: %s", table)
	}
	return col, nil
}

// Store upserts data under key, expiring ttl from now
func (r *Repository) Store(ctx context.Context, table, key string, data interface{}, ttl time.Duration) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}

	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", table, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(%s) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`,
		table, col, col)
	if _, err := r.db.ExecContext(ctx, query, key, string(blob), r.now().Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", table, key, err)
	}
	return nil
}

// Lookup returns the cached entry for key whether or not it has expired,
// or nil when nothing is stored
func (r *Repository) Lookup(ctx context.Context, table, key string) (*Entry, error) {
	col, err := keyColumn(table)
	if err != nil {
		return nil, err
	}

	var (
		data      string
		expiresAt int64
	)
	query := fmt.Sprintf("SELECT data, expires_at FROM %s WHERE %s = ?", table, col)
	err = r.db.QueryRowContext(ctx, query, key).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", table, key, err)
	}
	return &Entry{Data: json.RawMessage(data), ExpiresAt: time.Unix(expiresAt, 0)}, nil
}

// GetIfFresh returns the payload only while it has not expired
func (r *Repository) GetIfFresh(ctx context.Context, table, key string) (json.RawMessage, error) {
	e, err := r.Lookup(ctx, table, key)
	if err != nil || !e.Fresh(r.now()) {
		return nil, err
	}
	return e.Data, nil
}

// Get returns the payload regardless of expiry. Used as the fallback when
// the upstream call fails.
func (r *Repository) Get(ctx context.Context, table, key string) (json.RawMessage, error) {
	e, err := r.Lookup(ctx, table, key)
	if err != nil || e == nil {
		return nil, err
	}
	return e.Data, nil
}

// Delete removes one entry
func (r *Repository) Delete(ctx context.Context, table, key string) error {
	col, err := keyColumn(table)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, col)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, key, err)
	}
	return nil
}

// DeleteExpired removes the table's expired rows and returns how many
func (r *Repository) DeleteExpired(ctx context.Context, table string) (int64, error) {
	if _, err := keyColumn(table); err != nil {
		return 0, err
	}

	res, err := r.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rows from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows in %s: %w", table, err)
	}
	return n, nil
}

// DeleteAllExpired purges every table, stopping at the first failure
func (r *Repository) DeleteAllExpired(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(AllTables))
	for _, table := range AllTables {
		n, err := r.DeleteExpired(ctx, table)
		if err != nil {
			return out, err
		}
		out[table] = n
	}
	return out, nil
}
