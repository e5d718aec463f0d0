package scheduler

import (
	"testing"

	"github.com/aristath/sentinel-invest/internal/database"
	testingpkg "github.com/aristath/sentinel-invest/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestCheckDatabasesJob_Name(t *testing.T) {
	assert.Equal(t, "check_databases", NewCheckDatabasesJob(zerolog.Nop()).Name())
}

func TestCheckDatabasesJob_SkipsNil(t *testing.T) {
	job := NewCheckDatabasesJob(zerolog.Nop(), nil, nil)
	assert.NoError(t, job.Run())
}

func TestCheckDatabasesJob_HealthyDatabases(t *testing.T) {
	job := NewCheckDatabasesJob(zerolog.Nop(),
		testingpkg.NewTestDB(t, database.NameIdempotency),
		testingpkg.NewTestDB(t, database.NameHistory),
	)
	assert.NoError(t, job.Run())
}

func TestCheckDatabasesJob_ClosedDatabaseFails(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.NameClientData)
	_ = db.Close()

	err := NewCheckDatabasesJob(zerolog.Nop(), db).Run()
	assert.Error(t, err)
}
