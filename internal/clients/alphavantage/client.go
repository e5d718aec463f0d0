// Package alphavantage is a client for the Alpha Vantage market data API:
// daily bars, latest quotes and symbol search.
package alphavantage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/sentinel-invest/internal/clientdata"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Alpha Vantage query endpoint
	DefaultBaseURL = "https://www.alphavantage.co/query"
	// DefaultDailyLimit is the free tier's daily request budget
	DefaultDailyLimit = 25
	// DefaultRequestsPerMinute is the free tier's burst limit
	DefaultRequestsPerMinute = 5
	// DefaultTimeout bounds one HTTP call
	DefaultTimeout = 30 * time.Second
)

// ClientInterface is the subset of the client used by market data sync
type ClientInterface interface {
	GetDailyPrices(ctx context.Context, symbol string, full bool) ([]DailyBar, error)
	GetGlobalQuote(ctx context.Context, symbol string) (*Quote, error)
	SearchSymbols(ctx context.Context, keywords string) ([]SymbolMatch, error)
	GetRemainingRequests() int
}

// Client calls Alpha Vantage with throttling, a daily request budget and
// two cache tiers: in-memory, and an optional persistent store whose
// expired rows serve as a fallback when the API is unavailable.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *cache.Cache
	cacheTTL   CacheTTL
	store      *clientdata.Repository
	log        zerolog.Logger

	mu         sync.Mutex
	dailyLimit int
	used       int
	resetAt    time.Time
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API endpoint
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithStore enables the persistent response cache
func WithStore(repo *clientdata.Repository) Option {
	return func(c *Client) { c.store = repo }
}

// WithDailyLimit sets the daily request budget
func WithDailyLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.dailyLimit = n
		}
	}
}

// WithRequestsPerMinute sets the throttle
func WithRequestsPerMinute(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

// NewClient creates a client
func NewClient(apiKey string, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/DefaultRequestsPerMinute), 1),
		cache:      cache.New(time.Hour, 10*time.Minute),
		cacheTTL:   DefaultCacheTTL(),
		log:        log.With().Str("client", "alphavantage").Logger(),
		dailyLimit: DefaultDailyLimit,
		resetAt:    nextMidnightUTC(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCacheTTL replaces the in-memory cache durations
func (c *Client) SetCacheTTL(ttl CacheTTL) {
	c.cacheTTL = ttl
}

// GetRemainingRequests returns what is left of today's budget
func (c *Client) GetRemainingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.dailyLimit - c.used
}

// ResetDailyCounter restores the full daily budget
func (c *Client) ResetDailyCounter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.used = 0
	c.resetAt = nextMidnightUTC()
}

// ClearCache drops every in-memory response
func (c *Client) ClearCache() {
	c.cache.Flush()
}

// GetDailyPrices returns daily bars newest first. full requests the whole
// history instead of the latest 100 days.
func (c *Client) GetDailyPrices(ctx context.Context, symbol string, full bool) ([]DailyBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	size := "compact"
	if full {
		size = "full"
	}

	body, err := c.fetch(ctx, "TIME_SERIES_DAILY",
		map[string]string{"symbol": symbol, "outputsize": size},
		clientdata.TableDaily, symbol+":"+size, clientdata.TTLDaily, c.cacheTTL.PriceData)
	if err != nil {
		return nil, c.annotate(err, symbol)
	}
	return parseDailyTimeSeries(body)
}

// GetGlobalQuote returns the latest quote
func (c *Client) GetGlobalQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	body, err := c.fetch(ctx, "GLOBAL_QUOTE",
		map[string]string{"symbol": symbol},
		clientdata.TableQuote, symbol, clientdata.TTLQuote, c.cacheTTL.Quotes)
	if err != nil {
		return nil, c.annotate(err, symbol)
	}

	q, err := parseGlobalQuote(body)
	var nf ErrSymbolNotFound
	if errors.As(err, &nf) {
		return nil, ErrSymbolNotFound{Symbol: symbol}
	}
	return q, err
}

// SearchSymbols looks up instruments by ticker or name
func (c *Client) SearchSymbols(ctx context.Context, keywords string) ([]SymbolMatch, error) {
	keywords = strings.TrimSpace(keywords)
	body, err := c.fetch(ctx, "SYMBOL_SEARCH",
		map[string]string{"keywords": keywords},
		clientdata.TableSearch, strings.ToLower(keywords), clientdata.TTLSearch, c.cacheTTL.Search)
	if err != nil {
		return nil, err
	}
	return parseSymbolSearch(body)
}

func (c *Client) annotate(err error, symbol string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Message), "invalid api call") {
		return ErrSymbolNotFound{Symbol: symbol}
	}
	return err
}

// fetch resolves one request through the in-memory cache, the fresh
// persistent cache, the API, and finally the stale persistent cache
func (c *Client) fetch(ctx context.Context, function string, params map[string]string,
	table, storeKey string, storeTTL, memTTL time.Duration) ([]byte, error) {
	key := buildCacheKey(function, params)
	if cached, ok := c.getFromCache(key); ok {
		if body, isBytes := cached.([]byte); isBytes {
			return body, nil
		}
	}

	if c.store != nil {
		fresh, err := c.store.GetIfFresh(ctx, table, storeKey)
		if err != nil {
			c.log.Warn().Err(err).Str("table", table).Msg("Failed to read persistent cache")
		} else if fresh != nil {
			c.setCache(key, []byte(fresh), memTTL)
			return fresh, nil
		}
	}

	body, err := c.call(ctx, function, params)
	if err != nil {
		if stale := c.stale(ctx, table, storeKey); stale != nil {
			c.log.Warn().Err(err).Str("function", function).Str("key", storeKey).
				Msg("API call failed, serving stale cached response")
			return stale, nil
		}
		return nil, err
	}

	c.setCache(key, body, memTTL)
	if c.store != nil {
		if err := c.store.Store(ctx, table, storeKey, json.RawMessage(body), storeTTL); err != nil {
			c.log.Warn().Err(err).Str("table", table).Msg("Failed to persist response")
		}
	}
	return body, nil
}

func (c *Client) stale(ctx context.Context, table, key string) []byte {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, table, key)
	if err != nil {
		c.log.Warn().Err(err).Str("table", table).Msg("Failed to read stale response")
		return nil
	}
	return data
}

func (c *Client) call(ctx context.Context, function string, params map[string]string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrInvalidAPIKey{}
	}
	if err := c.checkRateLimit(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.refund()
		return nil, fmt.Errorf("failed waiting for rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("function", function)
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", function, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", function, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	if err := c.checkAPIError(body); err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("function", function).
		Str("symbol", params["symbol"]).
		Dur("duration", time.Since(start)).
		Int("remaining", c.GetRemainingRequests()).
		Msg("Alpha Vantage request completed")
	return body, nil
}

// checkRateLimit consumes one request from the daily budget
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	if c.used >= c.dailyLimit {
		return ErrRateLimitExceeded{}
	}
	c.used++
	return nil
}

// refund returns a request that never reached the API to the budget
func (c *Client) refund() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used > 0 {
		c.used--
	}
}

// rollover resets the budget at UTC midnight. Caller holds mu.
func (c *Client) rollover() {
	if time.Now().UTC().After(c.resetAt) {
		c.used = 0
		c.resetAt = nextMidnightUTC()
	}
}

// checkAPIError detects errors reported in a 200 body
func (c *Client) checkAPIError(body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		if strings.Contains(trimmed, "Thank you for using Alpha Vantage") {
			return ErrRateLimitExceeded{}
		}
		return &APIError{Message: "unexpected non-JSON response"}
	}

	var probe struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	switch {
	case probe.Note != "":
		return ErrRateLimitExceeded{}
	case probe.Information != "":
		msg := strings.ToLower(probe.Information)
		if strings.Contains(msg, "apikey") || strings.Contains(msg, "api key") {
			if strings.Contains(msg, "rate limit") || strings.Contains(msg, "frequency") {
				return ErrRateLimitExceeded{}
			}
			return ErrInvalidAPIKey{}
		}
		return ErrRateLimitExceeded{}
	case probe.ErrorMessage != "":
		return &APIError{Message: probe.ErrorMessage}
	}
	return nil
}

func (c *Client) getFromCache(key string) (interface{}, bool) {
	return c.cache.Get(key)
}

func (c *Client) setCache(key string, data interface{}, ttl time.Duration) {
	c.cache.Set(key, data, ttl)
}

// buildCacheKey derives a stable key from the function and its
// parameters, excluding the API key
func buildCacheKey(function string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "apikey" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(function)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	return b.String()
}

func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
