package alphavantage

import (
	"fmt"
	"time"
)

// DailyBar is one trading day of OHLCV data
type DailyBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Quote is the GLOBAL_QUOTE payload
type Quote struct {
	Symbol           string
	Open             float64
	High             float64
	Low              float64
	Price            float64
	Volume           int64
	LatestTradingDay time.Time
	PreviousClose    float64
	Change           float64
	ChangePercent    float64
}

// SymbolMatch is one SYMBOL_SEARCH result
type SymbolMatch struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Region      string  `json:"region"`
	MarketOpen  string  `json:"marketOpen"`
	MarketClose string  `json:"marketClose"`
	Timezone    string  `json:"timezone"`
	Currency    string  `json:"currency"`
	MatchScore  float64 `json:"matchScore"`
}

// CacheTTL controls how long responses stay in the in-memory cache
type CacheTTL struct {
	PriceData time.Duration
	Quotes    time.Duration
	Search    time.Duration
}

// DefaultCacheTTL returns the default in-memory cache durations
func DefaultCacheTTL() CacheTTL {
	return CacheTTL{
		PriceData: time.Hour,
		Quotes:    5 * time.Minute,
		Search:    24 * time.Hour,
	}
}

// ErrRateLimitExceeded is returned when the daily budget is spent or the
// API reports throttling
type ErrRateLimitExceeded struct{}

func (ErrRateLimitExceeded) Error() string {
	return "alpha vantage rate limit exceeded"
}

// ErrInvalidAPIKey is returned when the API rejects the key
type ErrInvalidAPIKey struct{}

func (ErrInvalidAPIKey) Error() string {
	return "alpha vantage API key is invalid or missing"
}

// ErrSymbolNotFound is returned when the API has no data for a symbol
type ErrSymbolNotFound struct {
	Symbol string
}

func (e ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("alpha vantage has no data for symbol %s", e.Symbol)
}

// APIError is any other error message returned in a 200 response body
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "alpha vantage API error: " + e.Message
}
