// Package openfigi resolves security identifiers (ISIN, WKN, CUSIP) to
// exchange listings through the OpenFIGI mapping API.
package openfigi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/sentinel-invest/internal/clientdata"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the v3 API root
	DefaultBaseURL = "https://api.openfigi.com/v3"
	// anonymous callers get 25 mapping requests per minute
	anonymousPerMinute = 25
	// with a key the limit is 25 per 6 seconds
	keyedPerMinute = 250
)

// IDType names an identifier scheme understood by OpenFIGI
type IDType string

const (
	IDTypeISIN  IDType = "ID_ISIN"
	IDTypeWKN   IDType = "ID_WERTPAPIER"
	IDTypeCUSIP IDType = "ID_CUSIP"
)

// ErrUnknownIdentifier is returned when OpenFIGI knows no listing for the
// identifier
var ErrUnknownIdentifier = errors.New("no listing found for identifier")

type mappingRequest struct {
	IDType  IDType `json:"idType"`
	IDValue string `json:"idValue"`
}

type mappingResponse struct {
	Data    []Listing `json:"data,omitempty"`
	Error   string    `json:"error,omitempty"`
	Warning string    `json:"warning,omitempty"`
}

// Listing is one exchange listing of a security
type Listing struct {
	FIGI          string `json:"figi"`
	Ticker        string `json:"ticker"`
	ExchCode      string `json:"exchCode"`
	Name          string `json:"name"`
	MarketSector  string `json:"marketSector"`
	SecurityType  string `json:"securityType"`
	SecurityType2 string `json:"securityType2"`
	CompositeFIGI string `json:"compositeFIGI"`
}

// Client calls the mapping endpoint. Successful mappings are persisted in
// client_data; expired rows serve as a fallback when the API fails.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	store      *clientdata.Repository
	log        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API root
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithStore enables the persistent mapping cache
func WithStore(repo *clientdata.Repository) Option {
	return func(c *Client) { c.store = repo }
}

// NewClient creates a client. apiKey is optional and raises the rate limit.
func NewClient(apiKey string, log zerolog.Logger, opts ...Option) *Client {
	perMinute := anonymousPerMinute
	if apiKey != "" {
		perMinute = keyedPerMinute
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
		log:        log.With().Str("client", "openfigi").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns every listing of the security with the given identifier
func (c *Client) Lookup(ctx context.Context, idType IDType, value string) ([]Listing, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	key := string(idType) + ":" + value

	if c.store != nil {
		fresh, err := c.store.GetIfFresh(ctx, clientdata.TableFIGI, key)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to read persistent cache")
		} else if fresh != nil {
			var listings []Listing
			if err := json.Unmarshal(fresh, &listings); err == nil {
				return listings, nil
			}
		}
	}

	listings, err := c.request(ctx, mappingRequest{IDType: idType, IDValue: value})
	if err != nil {
		if errors.Is(err, ErrUnknownIdentifier) {
			return nil, err
		}
		if stale := c.stale(ctx, key); stale != nil {
			c.log.Warn().Err(err).Str("identifier", key).Msg("API call failed, serving stale mapping")
			return stale, nil
		}
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Store(ctx, clientdata.TableFIGI, key, listings, clientdata.TTLFIGI); err != nil {
			c.log.Warn().Err(err).Msg("Failed to persist mapping")
		}
	}
	return listings, nil
}

func (c *Client) stale(ctx context.Context, key string) []Listing {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, clientdata.TableFIGI, key)
	if err != nil || data == nil {
		return nil
	}
	var listings []Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil
	}
	return listings
}

func (c *Client) request(ctx context.Context, m mappingRequest) ([]Listing, error) {
	body, err := json.Marshal([]mappingRequest{m})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mapping", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-OPENFIGI-APIKEY", c.apiKey)
	}

	c.log.Debug().Str("id_type", string(m.IDType)).Str("id", m.IDValue).Msg("Mapping identifier")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openfigi request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openfigi returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out []mappingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("openfigi returned no response items")
	}
	if out[0].Error != "" {
		return nil, fmt.Errorf("openfigi error: %s", out[0].Error)
	}
	if len(out[0].Data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, m.IDValue)
	}
	return out[0].Data, nil
}
