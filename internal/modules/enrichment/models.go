package enrichment

import (
	"time"

	"github.com/aristath/sentinel-invest/internal/domain"
)

// PriceStatus tells callers how far to trust a holding's valuation
type PriceStatus string

const (
	// PriceAvailable means a price inside the freshness window was used
	PriceAvailable PriceStatus = "AVAILABLE"
	// PriceStale means the latest known price is older than the freshness window
	PriceStale PriceStatus = "STALE"
	// PriceUnavailable means no price exists; value was computed as 0
	PriceUnavailable PriceStatus = "UNAVAILABLE"
)

// Quote is the latest known price of a ticker
type Quote struct {
	Price float64
	AsOf  time.Time
}

// PriceLookup returns the latest quote for a ticker
type PriceLookup interface {
	Quote(ticker string) (Quote, bool)
}

// Prices is a PriceLookup backed by a map keyed by upper-case ticker
type Prices map[string]Quote

// Quote implements PriceLookup
func (p Prices) Quote(ticker string) (Quote, bool) {
	q, ok := p[ticker]
	return q, ok
}

// LotComputed holds the derived figures of one lot
type LotComputed struct {
	CurrentPrice   *float64 `json:"currentPrice"`
	CurrentValue   float64  `json:"currentValue"`
	PreTaxProfit   float64  `json:"preTaxProfit"`
	CapitalGainTax float64  `json:"capitalGainTax"`
	AfterTaxProfit float64  `json:"afterTaxProfit"`
}

// EnrichedLot is a stored lot plus its computed figures
type EnrichedLot struct {
	domain.Lot
	ComputedInfo LotComputed `json:"computedInfo"`
}

// Totals are the aggregated figures of a holding or portfolio
type Totals struct {
	TotalCost          float64 `json:"totalCost"`
	CurrentValue       float64 `json:"currentValue"`
	PreTaxGainLoss     float64 `json:"preTaxGainLoss"`
	AfterTaxGainLoss   float64 `json:"afterTaxGainLoss"`
	GainLossPercentage float64 `json:"gainLossPercentage"`
}

// EnrichedHolding is a stored holding with computed lots and totals
type EnrichedHolding struct {
	domain.Holding
	Lots         []EnrichedLot `json:"lots"`
	CurrentPrice *float64      `json:"currentPrice"`
	PriceAsOf    *time.Time    `json:"priceAsOf,omitempty"`
	PriceStatus  PriceStatus   `json:"priceStatus"`
	Totals
}

// EnrichedPortfolio is a stored portfolio with computed holdings and totals.
// PricesComplete is false when any holding's price was unavailable.
type EnrichedPortfolio struct {
	domain.Portfolio
	Holdings       []EnrichedHolding `json:"holdings"`
	PricesComplete bool              `json:"pricesComplete"`
	Totals
}
