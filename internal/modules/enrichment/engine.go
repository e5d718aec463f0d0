// Package enrichment derives valuation and gain/loss figures from stored
// lots, market prices and tax settings. Nothing here performs I/O.
package enrichment

import (
	"time"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/shopspring/decimal"
)

// DefaultFreshness is how old a price may be before it is reported STALE.
// Four days covers a weekend plus a market holiday.
const DefaultFreshness = 96 * time.Hour

var hundred = decimal.NewFromInt(100)

// Engine computes enriched views
type Engine struct {
	freshness time.Duration
	now       func() time.Time
}

// NewEngine creates an engine with the given price freshness window
func NewEngine(freshness time.Duration) *Engine {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Engine{freshness: freshness, now: time.Now}
}

// sums accumulates exact cost and value before conversion to float64
type sums struct {
	cost  decimal.Decimal
	value decimal.Decimal
}

func (s *sums) add(o sums) {
	s.cost = s.cost.Add(o.cost)
	s.value = s.value.Add(o.value)
}

// totals applies the aggregate formulas. After-tax gain applies the rate
// to the aggregate pre-tax gain, not the sum of per-lot after-tax profits.
func (s sums) totals(taxRate decimal.Decimal) Totals {
	pre := s.value.Sub(s.cost)
	after := pre.Mul(decimal.NewFromInt(1).Sub(taxRate.Div(hundred)))

	pct := decimal.Zero
	if !s.cost.IsZero() {
		pct = pre.Mul(hundred).Div(s.cost)
	}

	return Totals{
		TotalCost:          s.cost.InexactFloat64(),
		CurrentValue:       s.value.InexactFloat64(),
		PreTaxGainLoss:     pre.InexactFloat64(),
		AfterTaxGainLoss:   after.InexactFloat64(),
		GainLossPercentage: pct.InexactFloat64(),
	}
}

// EnrichLot computes one lot's figures. price is nil when unavailable, in
// which case the lot is valued at 0.
func (e *Engine) EnrichLot(lot domain.Lot, price *float64, taxRate float64) EnrichedLot {
	enriched, _ := e.enrichLot(lot, price, decimal.NewFromFloat(taxRate))
	return enriched
}

func (e *Engine) enrichLot(lot domain.Lot, price *float64, rate decimal.Decimal) (EnrichedLot, sums) {
	qty := decimal.NewFromFloat(lot.Quantity)
	cost := qty.Mul(decimal.NewFromFloat(lot.PurchasePrice))

	value := decimal.Zero
	if price != nil {
		value = qty.Mul(decimal.NewFromFloat(*price))
	}

	pre := value.Sub(cost)
	tax := decimal.Max(decimal.Zero, pre.Mul(rate).Div(hundred))
	after := pre.Sub(tax)

	var current *float64
	if price != nil {
		p := *price
		current = &p
	}

	return EnrichedLot{
		Lot: lot,
		ComputedInfo: LotComputed{
			CurrentPrice:   current,
			CurrentValue:   value.InexactFloat64(),
			PreTaxProfit:   pre.InexactFloat64(),
			CapitalGainTax: tax.InexactFloat64(),
			AfterTaxProfit: after.InexactFloat64(),
		},
	}, sums{cost: cost, value: value}
}

// EnrichHolding computes a holding's lots and totals using the quote found
// in prices, if any.
func (e *Engine) EnrichHolding(h domain.Holding, prices PriceLookup, taxRate float64) EnrichedHolding {
	enriched, _ := e.enrichHolding(h, prices, decimal.NewFromFloat(taxRate))
	return enriched
}

func (e *Engine) enrichHolding(h domain.Holding, prices PriceLookup, rate decimal.Decimal) (EnrichedHolding, sums) {
	out := EnrichedHolding{
		Holding:     h,
		Lots:        make([]EnrichedLot, 0, len(h.Lots)),
		PriceStatus: PriceUnavailable,
	}
	out.Holding.Lots = nil

	var price *float64
	if prices != nil {
		if q, ok := prices.Quote(h.Ticker); ok {
			p := q.Price
			price = &p
			out.CurrentPrice = &p
			if !q.AsOf.IsZero() {
				asOf := q.AsOf
				out.PriceAsOf = &asOf
			}
			out.PriceStatus = e.status(q)
		}
	}

	var total sums
	for _, lot := range h.Lots {
		enrichedLot, s := e.enrichLot(lot, price, rate)
		out.Lots = append(out.Lots, enrichedLot)
		total.add(s)
	}

	out.Totals = total.totals(rate)
	return out, total
}

// EnrichPortfolio computes every holding and the portfolio totals using the
// portfolio's capital gain tax rate.
func (e *Engine) EnrichPortfolio(p domain.Portfolio, holdings []domain.Holding, prices PriceLookup) EnrichedPortfolio {
	rate := decimal.NewFromFloat(p.TaxSettings.CapitalGainTaxRate)

	out := EnrichedPortfolio{
		Portfolio:      p,
		Holdings:       make([]EnrichedHolding, 0, len(holdings)),
		PricesComplete: true,
	}

	var total sums
	for _, h := range holdings {
		enriched, s := e.enrichHolding(h, prices, rate)
		if enriched.PriceStatus == PriceUnavailable {
			out.PricesComplete = false
		}
		out.Holdings = append(out.Holdings, enriched)
		total.add(s)
	}

	out.Totals = total.totals(rate)
	return out
}

func (e *Engine) status(q Quote) PriceStatus {
	if q.AsOf.IsZero() {
		return PriceAvailable
	}
	if e.now().Sub(q.AsOf) > e.freshness {
		return PriceStale
	}
	return PriceAvailable
}
