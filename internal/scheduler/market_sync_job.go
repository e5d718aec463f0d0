package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel-invest/internal/modules/marketdata"
	"github.com/aristath/sentinel-invest/internal/modules/snapshots"
	"github.com/rs/zerolog"
)

// MarketSyncer runs a market data sync
type MarketSyncer interface {
	Sync(ctx context.Context) (*marketdata.SyncResult, error)
}

// SnapshotCapturer stores the day's valuation snapshots
type SnapshotCapturer interface {
	Capture(ctx context.Context, date time.Time) (*snapshots.CaptureResult, error)
}

// MarketSyncJob pulls the day's prices and then captures snapshots at
// those prices
type MarketSyncJob struct {
	syncer    MarketSyncer
	snapshots SnapshotCapturer
	timeout   time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewMarketSyncJob creates the daily market job. snapshots may be nil.
func NewMarketSyncJob(syncer MarketSyncer, snapshots SnapshotCapturer, log zerolog.Logger) *MarketSyncJob {
	return &MarketSyncJob{
		syncer:    syncer,
		snapshots: snapshots,
		timeout:   30 * time.Minute,
		now:       time.Now,
		log:       log.With().Str("job", "market_sync").Logger(),
	}
}

// Name returns the job name
func (j *MarketSyncJob) Name() string {
	return "market_sync"
}

// Run syncs prices then captures snapshots. Snapshots are captured even
// when some tickers failed, since the rest of the prices are current.
func (j *MarketSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	result, err := j.syncer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("market data sync failed: %w", err)
	}
	if len(result.Failed) > 0 {
		j.log.Warn().Int("failed", len(result.Failed)).Int("tickers", result.Tickers).Msg("Some tickers failed to sync")
	}

	if j.snapshots == nil {
		return nil
	}
	captured, err := j.snapshots.Capture(ctx, j.now())
	if err != nil {
		return fmt.Errorf("snapshot capture failed: %w", err)
	}

	j.log.Info().
		Int("updated", result.Updated).
		Int("portfolios", captured.Portfolios).
		Msg("Daily market job completed")
	return nil
}
