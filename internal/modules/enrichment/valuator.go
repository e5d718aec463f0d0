package enrichment

import (
	"context"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/rs/zerolog"
)

// QuoteProvider loads quotes for a batch of tickers
type QuoteProvider interface {
	Prices(ctx context.Context, tickers []string) (Prices, error)
}

// Valuator loads prices and runs the engine. A failed price load degrades
// to an empty price set, so callers always get a valuation with every
// holding marked UNAVAILABLE rather than an error.
type Valuator struct {
	engine *Engine
	quotes QuoteProvider
	log    zerolog.Logger
}

// NewValuator creates a valuator
func NewValuator(engine *Engine, quotes QuoteProvider, log zerolog.Logger) *Valuator {
	return &Valuator{
		engine: engine,
		quotes: quotes,
		log:    log.With().Str("service", "valuator").Logger(),
	}
}

// Portfolio enriches one portfolio with its holdings
func (v *Valuator) Portfolio(ctx context.Context, p domain.Portfolio, holdings []domain.Holding) EnrichedPortfolio {
	prices := v.load(ctx, tickersOf(holdings))
	return v.engine.EnrichPortfolio(p, holdings, prices)
}

// Portfolios enriches several portfolios with a single price load.
// holdings is keyed by portfolio id.
func (v *Valuator) Portfolios(ctx context.Context, list []domain.Portfolio, holdings map[string][]domain.Holding) []EnrichedPortfolio {
	var all []domain.Holding
	for _, hs := range holdings {
		all = append(all, hs...)
	}
	prices := v.load(ctx, tickersOf(all))

	out := make([]EnrichedPortfolio, 0, len(list))
	for _, p := range list {
		out = append(out, v.engine.EnrichPortfolio(p, holdings[p.PortfolioID], prices))
	}
	return out
}

// Holding enriches a single holding at taxRate
func (v *Valuator) Holding(ctx context.Context, h domain.Holding, taxRate float64) EnrichedHolding {
	prices := v.load(ctx, []string{h.Ticker})
	return v.engine.EnrichHolding(h, prices, taxRate)
}

func (v *Valuator) load(ctx context.Context, tickers []string) Prices {
	if len(tickers) == 0 {
		return Prices{}
	}
	prices, err := v.quotes.Prices(ctx, tickers)
	if err != nil {
		v.log.Warn().Err(err).Int("tickers", len(tickers)).Msg("Price load failed, valuing without prices")
		return Prices{}
	}
	return prices
}

func tickersOf(holdings []domain.Holding) []string {
	seen := make(map[string]bool, len(holdings))
	out := make([]string, 0, len(holdings))
	for _, h := range holdings {
		if !seen[h.Ticker] {
			seen[h.Ticker] = true
			out = append(out, h.Ticker)
		}
	}
	return out
}
