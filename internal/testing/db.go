// Package testing provides test helpers shared across packages: temporary
// databases, in-memory document stores, fixtures and simple fakes.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/docstore"
	"github.com/rs/zerolog"
)

// NewTestDB creates a migrated SQLite database in a temporary directory.
// name selects the schema: "idempotency", "history" or "client_data".
// The database is closed when the test ends.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}

// NewTestStore opens an in-memory document store closed when the test ends
func NewTestStore(t *testing.T) *docstore.Store {
	t.Helper()

	store, err := docstore.Open(docstore.Options{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to open test document store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
