package backup

import (
	"context"
	"fmt"
	"os"

	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/docstore"
)

// Source writes a consistent snapshot of one database to a file
type Source interface {
	Name() string
	Filename() string
	Snapshot(ctx context.Context, path string) error
}

// DocumentSource snapshots the document store with Badger's backup format
type DocumentSource struct {
	Store *docstore.Store
}

func (DocumentSource) Name() string     { return "documents" }
func (DocumentSource) Filename() string { return "documents.badger" }

// Snapshot writes a full Badger backup to path
func (d DocumentSource) Snapshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := d.Store.Backup(f); err != nil {
		return err
	}
	return f.Sync()
}

// SQLiteSource snapshots a SQLite database with VACUUM INTO
type SQLiteSource struct {
	DB *database.DB
}

func (s SQLiteSource) Name() string     { return s.DB.Name() }
func (s SQLiteSource) Filename() string { return s.DB.Name() + ".db" }

// Snapshot copies the database to path
func (s SQLiteSource) Snapshot(ctx context.Context, path string) error {
	return s.DB.VacuumInto(ctx, path)
}
