package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/sentinel-invest/internal/clients/alphavantage"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// indicatorHistory is how many stored days feed the indicators of new bars.
// Enough for SMA200 plus MACD warm-up.
const indicatorHistory = 260

// BarSource fetches daily bars, newest first
type BarSource interface {
	GetDailyPrices(ctx context.Context, symbol string, full bool) ([]alphavantage.DailyBar, error)
}

// SymbolSearcher looks up instruments
type SymbolSearcher interface {
	SearchSymbols(ctx context.Context, keywords string) ([]alphavantage.SymbolMatch, error)
}

// HoldingSource lists every stored holding
type HoldingSource interface {
	ListAll(ctx context.Context) ([]domain.Holding, error)
}

// PriceCache is flushed after new prices land
type PriceCache interface {
	Invalidate()
}

// SyncService pulls daily bars for every held ticker
type SyncService struct {
	repo        *Repository
	source      BarSource
	holdings    HoldingSource
	prices      PriceCache
	bus         *events.Bus
	concurrency int
	log         zerolog.Logger

	// BackfillDays caps the bars stored on a ticker's first sync
	BackfillDays int

	// one run at a time
	running sync.Mutex
}

// NewSyncService creates a sync service. prices and bus may be nil.
func NewSyncService(
	repo *Repository,
	source BarSource,
	holdings HoldingSource,
	prices PriceCache,
	bus *events.Bus,
	concurrency int,
	log zerolog.Logger,
) *SyncService {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &SyncService{
		repo:         repo,
		source:       source,
		holdings:     holdings,
		prices:       prices,
		bus:          bus,
		concurrency:  concurrency,
		log:          log.With().Str("service", "market_sync").Logger(),
		BackfillDays: DefaultBackfillDays,
	}
}

// Tickers returns the unique upper-cased tickers across all holdings plus
// the VIX proxy, sorted
func (s *SyncService) Tickers(ctx context.Context) ([]string, error) {
	all, err := s.holdings.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	set := map[string]struct{}{VIXProxyTicker: {}}
	for _, h := range all {
		if t := strings.ToUpper(strings.TrimSpace(h.Ticker)); t != "" {
			set[t] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Sync fetches and stores the latest bars for every ticker. Individual
// ticker failures are reported in the result and do not fail the run.
func (s *SyncService) Sync(ctx context.Context) (*SyncResult, error) {
	s.running.Lock()
	defer s.running.Unlock()

	start := time.Now()
	tickers, err := s.Tickers(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		Tickers:    len(tickers),
		Backfilled: []string{},
		Failed:     []TickerFailure{},
		StartedAt:  start.UTC(),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			backfilled, err := s.SyncTicker(gctx, ticker)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Warn().Err(err).Str("ticker", ticker).Msg("Ticker sync failed")
				result.Failed = append(result.Failed, TickerFailure{Ticker: ticker, Error: err.Error()})
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return nil
			}
			result.Updated++
			if backfilled {
				result.Backfilled = append(result.Backfilled, ticker)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("market data sync aborted: %w", err)
	}

	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Ticker < result.Failed[j].Ticker })
	sort.Strings(result.Backfilled)
	result.Duration = time.Since(start)

	if s.prices != nil && result.Updated > 0 {
		s.prices.Invalidate()
	}

	failed := make([]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, f.Ticker)
	}
	if s.bus != nil {
		s.bus.Publish("marketdata", &events.MarketDataSyncedData{
			Tickers:  result.Tickers,
			Updated:  result.Updated,
			Failed:   failed,
			Duration: result.Duration.Seconds(),
		})
	}

	s.log.Info().
		Int("tickers", result.Tickers).
		Int("updated", result.Updated).
		Int("failed", len(result.Failed)).
		Dur("duration", result.Duration).
		Msg("Market data sync completed")
	return result, nil
}

// SyncTicker stores the latest bars of one ticker, backfilling its history
// when none is stored. It reports whether a backfill happened.
func (s *SyncService) SyncTicker(ctx context.Context, ticker string) (bool, error) {
	stored, err := s.repo.Count(ctx, ticker)
	if err != nil {
		return false, err
	}
	backfill := stored == 0

	fetched, err := s.source.GetDailyPrices(ctx, ticker, backfill)
	if err != nil {
		return false, fmt.Errorf("failed to fetch daily prices: %w", err)
	}
	if len(fetched) == 0 {
		return false, fmt.Errorf("no daily prices returned for %s", ticker)
	}
	if backfill && s.BackfillDays > 0 && len(fetched) > s.BackfillDays {
		fetched = fetched[:s.BackfillDays]
	}

	history, err := s.repo.History(ctx, ticker, indicatorHistory)
	if err != nil {
		return false, err
	}

	merged, changed := merge(ticker, history, fetched)
	ComputeIndicators(merged)

	toSave := make([]Bar, 0, len(changed))
	for _, b := range merged {
		if changed[b.Date] {
			toSave = append(toSave, b)
		}
	}
	if err := s.repo.Save(ctx, toSave); err != nil {
		return false, err
	}

	s.log.Debug().Str("ticker", ticker).Int("saved", len(toSave)).Bool("backfill", backfill).Msg("Ticker synced")
	return backfill, nil
}

// merge overlays fetched bars on stored history and returns the series
// oldest first plus the dates that came from the fetch
func merge(ticker string, history []Bar, fetched []alphavantage.DailyBar) ([]Bar, map[string]bool) {
	byDate := make(map[string]Bar, len(history)+len(fetched))
	for _, b := range history {
		byDate[b.Date] = b
	}

	changed := make(map[string]bool, len(fetched))
	for _, f := range fetched {
		date := f.Date.Format(domain.DateLayout)
		byDate[date] = Bar{
			Ticker: ticker,
			Date:   date,
			Open:   f.Open,
			High:   f.High,
			Low:    f.Low,
			Close:  f.Close,
			Volume: f.Volume,
		}
		changed[date] = true
	}

	out := make([]Bar, 0, len(byDate))
	for _, b := range byDate {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, changed
}
