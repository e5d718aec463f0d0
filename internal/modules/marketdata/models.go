// Package marketdata synchronizes daily prices from Alpha Vantage into the
// history database and derives technical indicators from them.
package marketdata

import "time"

// VIXProxyTicker is synced every day regardless of holdings
const VIXProxyTicker = "VIXY"

// DefaultBackfillDays is how much history a ticker gets on its first sync
const DefaultBackfillDays = 200

// Bar is one stored trading day
type Bar struct {
	Ticker string
	Date   string // YYYY-MM-DD
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
	Indicators
}

// Indicators are derived from the bar's history up to and including it.
// A nil field means the history was too short.
type Indicators struct {
	SMA7       *float64 `json:"sma7"`
	SMA20      *float64 `json:"sma20"`
	SMA50      *float64 `json:"sma50"`
	SMA200     *float64 `json:"sma200"`
	VWMA7      *float64 `json:"vwma7"`
	VWMA20     *float64 `json:"vwma20"`
	VWMA50     *float64 `json:"vwma50"`
	VWMA200    *float64 `json:"vwma200"`
	RSI14      *float64 `json:"rsi14"`
	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macdSignal"`
	MACDHist   *float64 `json:"macdHist"`
	ATR14      *float64 `json:"atr14"`
}

// TickerFailure records why one ticker could not be synced
type TickerFailure struct {
	Ticker string `json:"ticker"`
	Error  string `json:"error"`
}

// SyncResult summarizes a sync run
type SyncResult struct {
	Tickers    int             `json:"tickers"`
	Updated    int             `json:"updated"`
	Backfilled []string        `json:"backfilled"`
	Failed     []TickerFailure `json:"failed"`
	StartedAt  time.Time       `json:"startedAt"`
	Duration   time.Duration   `json:"durationNs"`
}
