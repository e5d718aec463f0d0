package enrichment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// PriceSource loads the latest stored quotes for tickers. Tickers without
// any stored price are absent from the result.
type PriceSource interface {
	LatestQuotes(ctx context.Context, tickers []string) (map[string]Quote, error)
}

// PriceService resolves quotes for enrichment with a short in-memory cache
// in front of the source.
type PriceService struct {
	source PriceSource
	cache  *cache.Cache
	log    zerolog.Logger
}

// missing marks a ticker known to have no price, so it is not re-queried
// until the entry expires
type missing struct{}

// NewPriceService creates a price service caching quotes for ttl
func NewPriceService(source PriceSource, ttl time.Duration, log zerolog.Logger) *PriceService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PriceService{
		source: source,
		cache:  cache.New(ttl, 2*ttl),
		log:    log.With().Str("service", "prices").Logger(),
	}
}

// Prices returns quotes for the given tickers
func (s *PriceService) Prices(ctx context.Context, tickers []string) (Prices, error) {
	out := make(Prices, len(tickers))
	var toLoad []string

	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(t)
		if seen[t] {
			continue
		}
		seen[t] = true

		if cached, ok := s.cache.Get(t); ok {
			if q, isQuote := cached.(Quote); isQuote {
				out[t] = q
			}
			continue
		}
		toLoad = append(toLoad, t)
	}

	if len(toLoad) == 0 {
		return out, nil
	}

	loaded, err := s.source.LatestQuotes(ctx, toLoad)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest quotes: %w", err)
	}

	for _, t := range toLoad {
		if q, ok := loaded[t]; ok {
			out[t] = q
			s.cache.SetDefault(t, q)
		} else {
			s.cache.SetDefault(t, missing{})
		}
	}

	s.log.Debug().Int("requested", len(toLoad)).Int("found", len(loaded)).Msg("Loaded quotes")
	return out, nil
}

// Invalidate drops every cached quote. Called after a market data sync.
func (s *PriceService) Invalidate() {
	s.cache.Flush()
}
