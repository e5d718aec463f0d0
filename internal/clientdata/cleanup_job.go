package clientdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob purges expired API payloads. Scheduled daily.
type CleanupJob struct {
	repo *Repository
	log  zerolog.Logger
}

// NewCleanupJob creates a client data cleanup job
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		log:  log.With().Str("job", "client_data_cleanup").Logger(),
	}
}

// Run deletes expired rows from every cache table
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	results, err := j.repo.DeleteAllExpired(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired client data")
		return err
	}

	var total int64
	for table, n := range results {
		if n > 0 {
			j.log.Debug().Str("table", table).Int64("deleted", n).Msg("Purged expired payloads")
			total += n
		}
	}
	if total > 0 {
		j.log.Info().Int64("total_deleted", total).Msg("Client data cleanup completed")
	}
	return nil
}

// Name returns the job name
func (j *CleanupJob) Name() string {
	return "client_data_cleanup"
}
