package snapshots

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/sentinel-invest/internal/database"
)

// Repository reads and writes snapshot rows in the history database
type Repository struct {
	db *sql.DB
}

// NewRepository creates a snapshot repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save writes a day's portfolio and holding snapshots in one transaction,
// replacing any rows already stored for the same day
func (r *Repository) Save(ctx context.Context, portfolios []PortfolioRecord, holdings []HoldingPoint) error {
	now := time.Now().Unix()
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for _, p := range portfolios {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO portfolio_snapshots (
					portfolio_id, user_id, date, total_cost, current_value, pre_tax_gain_loss,
					after_tax_gain_loss, gain_loss_percentage, cash_total, prices_complete,
					sma7, sma20, sma50, sma200, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(portfolio_id, date) DO UPDATE SET
					total_cost = excluded.total_cost,
					current_value = excluded.current_value,
					pre_tax_gain_loss = excluded.pre_tax_gain_loss,
					after_tax_gain_loss = excluded.after_tax_gain_loss,
					gain_loss_percentage = excluded.gain_loss_percentage,
					cash_total = excluded.cash_total,
					prices_complete = excluded.prices_complete,
					sma7 = excluded.sma7,
					sma20 = excluded.sma20,
					sma50 = excluded.sma50,
					sma200 = excluded.sma200,
					created_at = excluded.created_at`,
				p.PortfolioID, p.UserID, p.Date, p.TotalCost, p.CurrentValue, p.PreTaxGainLoss,
				p.AfterTaxGainLoss, p.GainLossPercentage, p.CashTotal, boolToInt(p.PricesComplete),
				nullable(p.SMA7), nullable(p.SMA20), nullable(p.SMA50), nullable(p.SMA200), now,
			)
			if err != nil {
				return fmt.Errorf("failed to save portfolio snapshot %s: %w", p.PortfolioID, err)
			}
		}

		for _, h := range holdings {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO holding_snapshots (
					holding_id, portfolio_id, ticker, date, quantity, total_cost, current_value,
					pre_tax_gain_loss, close, sma50, sma200, rsi14, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(holding_id, date) DO UPDATE SET
					portfolio_id = excluded.portfolio_id,
					quantity = excluded.quantity,
					total_cost = excluded.total_cost,
					current_value = excluded.current_value,
					pre_tax_gain_loss = excluded.pre_tax_gain_loss,
					close = excluded.close,
					sma50 = excluded.sma50,
					sma200 = excluded.sma200,
					rsi14 = excluded.rsi14,
					created_at = excluded.created_at`,
				h.HoldingID, h.PortfolioID, h.Ticker, h.Date, h.Quantity, h.TotalCost, h.CurrentValue,
				h.PreTaxGainLoss, nullable(h.Close), nullable(h.SMA50), nullable(h.SMA200), nullable(h.RSI14), now,
			)
			if err != nil {
				return fmt.Errorf("failed to save holding snapshot %s: %w", h.HoldingID, err)
			}
		}
		return nil
	})
}

// RecentValues returns up to limit current values recorded strictly
// before date, oldest first
func (r *Repository) RecentValues(ctx context.Context, portfolioID, before string, limit int) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT current_value FROM (
			SELECT date, current_value FROM portfolio_snapshots
			WHERE portfolio_id = ? AND date < ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, portfolioID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent values: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// PortfolioSeries returns the portfolio's snapshots from the given date
// (inclusive, empty for all), oldest first
func (r *Repository) PortfolioSeries(ctx context.Context, portfolioID, from string) ([]PortfolioPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, total_cost, current_value, pre_tax_gain_loss, after_tax_gain_loss,
			gain_loss_percentage, cash_total, prices_complete, sma7, sma20, sma50, sma200
		FROM portfolio_snapshots
		WHERE portfolio_id = ? AND date >= ?
		ORDER BY date ASC`, portfolioID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio series: %w", err)
	}
	defer rows.Close()

	points := []PortfolioPoint{}
	for rows.Next() {
		var (
			p                        PortfolioPoint
			complete                 int
			sma7, sma20, sma50, s200 sql.NullFloat64
		)
		if err := rows.Scan(&p.Date, &p.TotalCost, &p.CurrentValue, &p.PreTaxGainLoss, &p.AfterTaxGainLoss,
			&p.GainLossPercentage, &p.CashTotal, &complete, &sma7, &sma20, &sma50, &s200); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		p.PricesComplete = complete == 1
		p.SMA7, p.SMA20, p.SMA50, p.SMA200 = ptr(sma7), ptr(sma20), ptr(sma50), ptr(s200)
		points = append(points, p)
	}
	return points, rows.Err()
}

// HoldingSeries returns the holding's snapshots from the given date, oldest first
func (r *Repository) HoldingSeries(ctx context.Context, holdingID, from string) ([]HoldingPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT holding_id, portfolio_id, ticker, date, quantity, total_cost, current_value,
			pre_tax_gain_loss, close, sma50, sma200, rsi14
		FROM holding_snapshots
		WHERE holding_id = ? AND date >= ?
		ORDER BY date ASC`, holdingID, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query holding series: %w", err)
	}
	defer rows.Close()

	points := []HoldingPoint{}
	for rows.Next() {
		var (
			h                         HoldingPoint
			closePx, sma50, s200, rsi sql.NullFloat64
		)
		if err := rows.Scan(&h.HoldingID, &h.PortfolioID, &h.Ticker, &h.Date, &h.Quantity, &h.TotalCost,
			&h.CurrentValue, &h.PreTaxGainLoss, &closePx, &sma50, &s200, &rsi); err != nil {
			return nil, fmt.Errorf("failed to scan holding snapshot: %w", err)
		}
		h.Close, h.SMA50, h.SMA200, h.RSI14 = ptr(closePx), ptr(sma50), ptr(s200), ptr(rsi)
		points = append(points, h)
	}
	return points, rows.Err()
}

// Indicators returns the latest stored close and indicators for ticker on
// or before date. All fields are nil when no bar exists.
func (r *Repository) Indicators(ctx context.Context, ticker, date string) (closePx, sma50, sma200, rsi14 *float64, err error) {
	var c, s50, s200, rsi sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT close, sma50, sma200, rsi14 FROM daily_prices
		WHERE ticker = ? AND date <= ?
		ORDER BY date DESC LIMIT 1`, ticker, date).Scan(&c, &s50, &s200, &rsi)
	if err == sql.ErrNoRows {
		return nil, nil, nil, nil, nil
	}
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to query indicators for %s: %w", ticker, err)
	}
	return ptr(c), ptr(s50), ptr(s200), ptr(rsi), nil
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
