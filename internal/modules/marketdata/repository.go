package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
)

// Repository stores daily bars in the history database
type Repository struct {
	db *sql.DB
}

// NewRepository creates a daily price repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts bars with their indicators in one transaction
func (r *Repository) Save(ctx context.Context, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}
	now := time.Now().Unix()

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO daily_prices (
				ticker, date, open, high, low, close, volume,
				sma7, sma20, sma50, sma200, vwma7, vwma20, vwma50, vwma200,
				rsi14, macd, macd_signal, macd_hist, atr14, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ticker, date) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, volume = excluded.volume,
				sma7 = excluded.sma7, sma20 = excluded.sma20, sma50 = excluded.sma50, sma200 = excluded.sma200,
				vwma7 = excluded.vwma7, vwma20 = excluded.vwma20, vwma50 = excluded.vwma50, vwma200 = excluded.vwma200,
				rsi14 = excluded.rsi14, macd = excluded.macd, macd_signal = excluded.macd_signal,
				macd_hist = excluded.macd_hist, atr14 = excluded.atr14, updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("failed to prepare daily price upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range bars {
			ind := b.Indicators
			_, err := stmt.ExecContext(ctx,
				b.Ticker, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume,
				ind.SMA7, ind.SMA20, ind.SMA50, ind.SMA200,
				ind.VWMA7, ind.VWMA20, ind.VWMA50, ind.VWMA200,
				ind.RSI14, ind.MACD, ind.MACDSignal, ind.MACDHist, ind.ATR14, now,
			)
			if err != nil {
				return fmt.Errorf("failed to save %s %s: %w", b.Ticker, b.Date, err)
			}
		}
		return nil
	})
}

// Count returns how many days are stored for ticker
func (r *Repository) Count(ctx context.Context, ticker string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_prices WHERE ticker = ?", ticker).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count prices for %s: %w", ticker, err)
	}
	return n, nil
}

// History returns the most recent limit bars oldest first; limit <= 0
// returns everything
func (r *Repository) History(ctx context.Context, ticker string, limit int) ([]Bar, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ticker, date, open, high, low, close, volume,
			sma7, sma20, sma50, sma200, vwma7, vwma20, vwma50, vwma200,
			rsi14, macd, macd_signal, macd_hist, atr14
		FROM (SELECT * FROM daily_prices WHERE ticker = ? ORDER BY date DESC LIMIT ?)
		ORDER BY date ASC`, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", ticker, err)
	}
	defer rows.Close()

	bars := make([]Bar, 0)
	for rows.Next() {
		var (
			b   Bar
			ind nullIndicators
		)
		err := rows.Scan(&b.Ticker, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&ind.sma7, &ind.sma20, &ind.sma50, &ind.sma200,
			&ind.vwma7, &ind.vwma20, &ind.vwma50, &ind.vwma200,
			&ind.rsi14, &ind.macd, &ind.macdSignal, &ind.macdHist, &ind.atr14)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		b.Indicators = ind.toIndicators()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Latest returns the newest stored bar, or nil
func (r *Repository) Latest(ctx context.Context, ticker string) (*Bar, error) {
	bars, err := r.History(ctx, ticker, 1)
	if err != nil || len(bars) == 0 {
		return nil, err
	}
	return &bars[0], nil
}

// LatestQuotes returns the latest close per ticker, stamped with its
// trading day. Tickers with no stored bar are absent.
func (r *Repository) LatestQuotes(ctx context.Context, tickers []string) (map[string]enrichment.Quote, error) {
	out := make(map[string]enrichment.Quote, len(tickers))
	if len(tickers) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(tickers))
	for i, t := range tickers {
		args[i] = t
	}
	query := `
		SELECT p.ticker, p.date, p.close
		FROM daily_prices p
		JOIN (
			SELECT ticker, MAX(date) AS date FROM daily_prices
			WHERE ticker IN (` + placeholders(len(tickers)) + `)
			GROUP BY ticker
		) latest ON latest.ticker = p.ticker AND latest.date = p.date`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest quotes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ticker, date string
			price        float64
		)
		if err := rows.Scan(&ticker, &date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		asOf, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q for %s: %w", date, ticker, err)
		}
		out[ticker] = enrichment.Quote{Price: price, AsOf: asOf}
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type nullIndicators struct {
	sma7, sma20, sma50, sma200     sql.NullFloat64
	vwma7, vwma20, vwma50, vwma200 sql.NullFloat64
	rsi14, macd, macdSignal        sql.NullFloat64
	macdHist, atr14                sql.NullFloat64
}

func (n nullIndicators) toIndicators() Indicators {
	return Indicators{
		SMA7: ptr(n.sma7), SMA20: ptr(n.sma20), SMA50: ptr(n.sma50), SMA200: ptr(n.sma200),
		VWMA7: ptr(n.vwma7), VWMA20: ptr(n.vwma20), VWMA50: ptr(n.vwma50), VWMA200: ptr(n.vwma200),
		RSI14: ptr(n.rsi14), MACD: ptr(n.macd), MACDSignal: ptr(n.macdSignal), MACDHist: ptr(n.macdHist),
		ATR14: ptr(n.atr14),
	}
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
