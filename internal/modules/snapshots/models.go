// Package snapshots records daily valuations of portfolios and holdings
// and serves them back as chart series.
package snapshots

// PortfolioPoint is one day of a portfolio's valuation history
type PortfolioPoint struct {
	Date               string   `json:"date"`
	TotalCost          float64  `json:"totalCost"`
	CurrentValue       float64  `json:"currentValue"`
	PreTaxGainLoss     float64  `json:"preTaxGainLoss"`
	AfterTaxGainLoss   float64  `json:"afterTaxGainLoss"`
	GainLossPercentage float64  `json:"gainLossPercentage"`
	CashTotal          float64  `json:"cashTotal"`
	PricesComplete     bool     `json:"pricesComplete"`
	SMA7               *float64 `json:"sma7"`
	SMA20              *float64 `json:"sma20"`
	SMA50              *float64 `json:"sma50"`
	SMA200             *float64 `json:"sma200"`
}

// PortfolioRecord is a stored portfolio point with its keys
type PortfolioRecord struct {
	PortfolioID string
	UserID      string
	PortfolioPoint
}

// HoldingPoint is one day of a holding's valuation history
type HoldingPoint struct {
	HoldingID      string   `json:"holdingId"`
	PortfolioID    string   `json:"portfolioId"`
	Ticker         string   `json:"ticker"`
	Date           string   `json:"date"`
	Quantity       float64  `json:"quantity"`
	TotalCost      float64  `json:"totalCost"`
	CurrentValue   float64  `json:"currentValue"`
	PreTaxGainLoss float64  `json:"preTaxGainLoss"`
	Close          *float64 `json:"close"`
	SMA50          *float64 `json:"sma50"`
	SMA200         *float64 `json:"sma200"`
	RSI14          *float64 `json:"rsi14"`
}

// CaptureResult summarizes a capture run
type CaptureResult struct {
	Date       string `json:"date"`
	Portfolios int    `json:"portfolios"`
	Holdings   int    `json:"holdings"`
}
