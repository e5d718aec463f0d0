package scheduler

import (
	"context"
	"time"

	"github.com/aristath/sentinel-invest/internal/backup"
)

// Backuper creates and uploads a backup
type Backuper interface {
	Run(ctx context.Context) (*backup.Result, error)
}

// BackupJob runs the backup service on a schedule
type BackupJob struct {
	service Backuper
}

// NewBackupJob wraps service as a job
func NewBackupJob(service Backuper) *BackupJob {
	return &BackupJob{service: service}
}

// Name returns the job name
func (j *BackupJob) Name() string {
	return "backup"
}

// Run creates one backup
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	_, err := j.service.Run(ctx)
	return err
}
