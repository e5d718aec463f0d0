package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/rs/zerolog"
)

// walFramesThreshold is the WAL size, in frames, above which a truncating
// checkpoint is forced
const walFramesThreshold = 1000

// CheckDatabasesJob verifies SQLite integrity and keeps WAL files small
type CheckDatabasesJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewCheckDatabasesJob creates a check over dbs. Nil entries are skipped.
func NewCheckDatabasesJob(log zerolog.Logger, dbs ...*database.DB) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		databases: dbs,
		log:       log.With().Str("job", "check_databases").Logger(),
	}
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run checks every database. A failed integrity check fails the job;
// checkpoint problems are only logged.
func (j *CheckDatabasesJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed its health check: %w", db.Name(), err)
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
		} else if frames > walFramesThreshold {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, truncating")
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("Truncating checkpoint failed")
			}
		}

		checked++
	}

	j.log.Debug().Int("checked", checked).Msg("Database check completed")
	return nil
}
