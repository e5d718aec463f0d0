package snapshots

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/events"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
)

// longestWindow is the widest moving average kept on portfolio values
const longestWindow = 200

// Range names accepted by PortfolioSeries
const (
	Range1M  = "1m"
	Range3M  = "3m"
	Range6M  = "6m"
	Range1Y  = "1y"
	RangeAll = "all"

	DefaultRange = Range1Y
)

// PortfolioSource lists every portfolio
type PortfolioSource interface {
	ListAll(ctx context.Context) ([]domain.Portfolio, error)
}

// HoldingSource lists every holding
type HoldingSource interface {
	ListAll(ctx context.Context) ([]domain.Holding, error)
}

// Service captures and serves snapshots
type Service struct {
	repo       *Repository
	portfolios PortfolioSource
	holdings   HoldingSource
	valuator   *enrichment.Valuator
	bus        *events.Bus
	now        func() time.Time
	log        zerolog.Logger
}

// NewService creates a snapshot service. bus may be nil.
func NewService(
	repo *Repository,
	portfolios PortfolioSource,
	holdings HoldingSource,
	valuator *enrichment.Valuator,
	bus *events.Bus,
	log zerolog.Logger,
) *Service {
	return &Service{
		repo:       repo,
		portfolios: portfolios,
		holdings:   holdings,
		valuator:   valuator,
		bus:        bus,
		now:        func() time.Time { return time.Now().UTC() },
		log:        log.With().Str("service", "snapshots").Logger(),
	}
}

// Capture values every portfolio at current prices and stores the result
// under date. Re-capturing the same date overwrites it.
func (s *Service) Capture(ctx context.Context, date time.Time) (*CaptureResult, error) {
	day := date.UTC().Format(domain.DateLayout)

	list, err := s.portfolios.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	all, err := s.holdings.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings: %w", err)
	}

	byPortfolio := make(map[string][]domain.Holding, len(list))
	for _, h := range all {
		byPortfolio[h.PortfolioID] = append(byPortfolio[h.PortfolioID], h)
	}

	enriched := s.valuator.Portfolios(ctx, list, byPortfolio)

	records := make([]PortfolioRecord, 0, len(enriched))
	var holdingPoints []HoldingPoint
	for _, ep := range enriched {
		point := PortfolioPoint{
			Date:               day,
			TotalCost:          ep.Totals.TotalCost,
			CurrentValue:       ep.Totals.CurrentValue,
			PreTaxGainLoss:     ep.Totals.PreTaxGainLoss,
			AfterTaxGainLoss:   ep.Totals.AfterTaxGainLoss,
			GainLossPercentage: ep.Totals.GainLossPercentage,
			CashTotal:          ep.CashReserve.TotalAmount,
			PricesComplete:     ep.PricesComplete,
		}

		history, err := s.repo.RecentValues(ctx, ep.PortfolioID, day, longestWindow-1)
		if err != nil {
			return nil, err
		}
		series := append(history, point.CurrentValue)
		point.SMA7 = movingAverage(series, 7)
		point.SMA20 = movingAverage(series, 20)
		point.SMA50 = movingAverage(series, 50)
		point.SMA200 = movingAverage(series, longestWindow)

		records = append(records, PortfolioRecord{PortfolioID: ep.PortfolioID, UserID: ep.UserID, PortfolioPoint: point})

		for _, eh := range ep.Holdings {
			hp := HoldingPoint{
				HoldingID:      eh.HoldingID,
				PortfolioID:    eh.PortfolioID,
				Ticker:         eh.Ticker,
				Date:           day,
				TotalCost:      eh.Totals.TotalCost,
				CurrentValue:   eh.Totals.CurrentValue,
				PreTaxGainLoss: eh.Totals.PreTaxGainLoss,
			}
			for _, lot := range eh.Lots {
				hp.Quantity += lot.Quantity
			}
			hp.Close, hp.SMA50, hp.SMA200, hp.RSI14, err = s.repo.Indicators(ctx, eh.Ticker, day)
			if err != nil {
				return nil, err
			}
			holdingPoints = append(holdingPoints, hp)
		}
	}

	if err := s.repo.Save(ctx, records, holdingPoints); err != nil {
		return nil, err
	}

	result := &CaptureResult{Date: day, Portfolios: len(records), Holdings: len(holdingPoints)}
	s.log.Info().Str("date", day).Int("portfolios", result.Portfolios).Int("holdings", result.Holdings).Msg("Snapshots captured")

	if s.bus != nil {
		s.bus.Publish("snapshots", &events.SnapshotsCapturedData{
			Date:       day,
			Portfolios: result.Portfolios,
			Holdings:   result.Holdings,
		})
	}
	return result, nil
}

// PortfolioSeries returns the snapshot series of a portfolio for the
// named range. An empty name selects DefaultRange.
func (s *Service) PortfolioSeries(ctx context.Context, portfolioID, rangeName string) ([]PortfolioPoint, error) {
	from, err := s.rangeStart(rangeName)
	if err != nil {
		return nil, err
	}
	return s.repo.PortfolioSeries(ctx, portfolioID, from)
}

// HoldingSeries returns the snapshot series of a holding for the named range
func (s *Service) HoldingSeries(ctx context.Context, holdingID, rangeName string) ([]HoldingPoint, error) {
	from, err := s.rangeStart(rangeName)
	if err != nil {
		return nil, err
	}
	return s.repo.HoldingSeries(ctx, holdingID, from)
}

// rangeStart converts a range name to the first included date
func (s *Service) rangeStart(name string) (string, error) {
	if name == "" {
		name = DefaultRange
	}
	today := s.now()
	var from time.Time
	switch name {
	case Range1M:
		from = today.AddDate(0, -1, 0)
	case Range3M:
		from = today.AddDate(0, -3, 0)
	case Range6M:
		from = today.AddDate(0, -6, 0)
	case Range1Y:
		from = today.AddDate(-1, 0, 0)
	case RangeAll:
		return "", nil
	default:
		return "", domain.NewValidation(domain.CodePortfolioValidation,
			fmt.Sprintf("range must be one of 1m, 3m, 6m, 1y, all; got %q", name))
	}
	return from.Format(domain.DateLayout), nil
}

// movingAverage returns the mean of the last window values, or nil when
// the series is shorter than the window
func movingAverage(series []float64, window int) *float64 {
	if len(series) < window {
		return nil
	}
	m := stat.Mean(series[len(series)-window:], nil)
	return &m
}
