package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/sentinel-invest/internal/config"
	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/rs/zerolog"
)

// DocumentsDir is the Badger directory under the data directory
const DocumentsDir = "documents"

// InitializeDatabases opens and migrates the SQLite databases and opens the
// document store
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	dbs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// replayed responses must survive a crash
		{database.NameIdempotency, database.ProfileDurable, &container.IdempotencyDB},
		{database.NameHistory, database.ProfileStandard, &container.HistoryDB},
		// everything here can be fetched again
		{database.NameClientData, database.ProfileCache, &container.ClientDataDB},
	}

	for _, d := range dbs {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, d.name+".db"),
			Profile: d.profile,
			Name:    d.name,
		})
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", d.name, err)
		}
		*d.target = db

		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", d.name, err)
		}
		log.Debug().Str("database", d.name).Str("profile", string(d.profile)).Msg("Database ready")
	}

	store, err := docstore.Open(docstore.Options{Path: filepath.Join(cfg.DataDir, DocumentsDir)}, log)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	container.Store = store

	log.Info().Int("databases", len(dbs)).Msg("Databases initialized")
	return container, nil
}
