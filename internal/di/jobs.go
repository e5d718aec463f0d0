package di

import (
	"fmt"

	"github.com/aristath/sentinel-invest/internal/clientdata"
	"github.com/aristath/sentinel-invest/internal/config"
	"github.com/aristath/sentinel-invest/internal/idempotency"
	"github.com/aristath/sentinel-invest/internal/scheduler"
	"github.com/rs/zerolog"
)

// checkDatabasesSchedule runs the integrity and WAL check daily at 04:00
const checkDatabasesSchedule = "0 0 4 * * *"

// JobInstances holds the registered background jobs
type JobInstances struct {
	MarketSync         *scheduler.MarketSyncJob
	IdempotencyCleanup *idempotency.CleanupJob
	ClientDataCleanup  *clientdata.CleanupJob
	CheckDatabases     *scheduler.CheckDatabasesJob
	Backup             *scheduler.BackupJob // nil when backups are disabled
}

type scheduledJob struct {
	schedule string
	job      scheduler.Job
}

// RegisterJobs creates every background job and adds it to the scheduler.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{
		MarketSync:         scheduler.NewMarketSyncJob(container.SyncService, container.SnapshotService, log),
		IdempotencyCleanup: idempotency.NewCleanupJob(container.IdempotencyRepo, log),
		ClientDataCleanup:  clientdata.NewCleanupJob(container.ClientDataRepo, log),
		CheckDatabases:     scheduler.NewCheckDatabasesJob(log, container.Databases()...),
	}
	if container.BackupService != nil {
		jobs.Backup = scheduler.NewBackupJob(container.BackupService)
	}

	entries := []scheduledJob{
		{cfg.Schedules.MarketSync, jobs.MarketSync},
		{cfg.Schedules.IdempotencyCleanup, jobs.IdempotencyCleanup},
		{cfg.Schedules.ClientDataCleanup, jobs.ClientDataCleanup},
		{checkDatabasesSchedule, jobs.CheckDatabases},
	}
	if jobs.Backup != nil {
		entries = append(entries, scheduledJob{cfg.Schedules.Backup, jobs.Backup})
	}

	for _, e := range entries {
		if e.schedule == "" {
			log.Info().Str("job", e.job.Name()).Msg("Job has no schedule, skipping")
			continue
		}
		if err := container.Scheduler.AddJob(e.schedule, e.job); err != nil {
			return nil, fmt.Errorf("failed to register job: %w", err)
		}
	}

	log.Info().Int("jobs", len(container.Scheduler.Entries())).Msg("Jobs registered")
	return jobs, nil
}
