package idempotency

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/sentinel-invest/internal/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)

	require.NoError(t, database.MigrateConn(db, database.NameIdempotency))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestRepo(t *testing.T) (*Repository, *time.Time) {
	repo := NewRepository(setupTestDB(t))
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestRepository_PutAndGet(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	body := []byte(`{"portfolioId":"p1"}`)
	require.NoError(t, repo.Put(ctx, &Record{
		Key: "k1", UserID: "u1", StatusCode: 201, ContentType: "application/json", Body: body,
	}))

	rec, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, 201, rec.StatusCode)
	assert.Equal(t, "application/json", rec.ContentType)
	assert.Equal(t, body, rec.Body)
}

func TestRepository_GetScopedByUser(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 201, Body: []byte("a")}))

	rec, err := repo.Get(ctx, "k1", "u2")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRepository_SameKeyDifferentUsersAreIndependent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 201, Body: []byte("one")}))
	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u2", StatusCode: 201, Body: []byte("two")}))

	r1, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	r2, err := repo.Get(ctx, "k1", "u2")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), r1.Body)
	assert.Equal(t, []byte("two"), r2.Body)
}

func TestRepository_PutNeverOverwritesCompleted(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 201, Body: []byte("first")}))
	err := repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 200, Body: []byte("second")})
	assert.ErrorIs(t, err, ErrRecordExists)

	rec, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), rec.Body)
	assert.Equal(t, 201, rec.StatusCode)
}

func TestRepository_ExpiredIsNotFound(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 201}))

	*now = now.Add(TTLCompletedRecord + time.Second)
	rec, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// an expired completed record may be replaced
	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 200}))
}

func TestRepository_ReserveLifecycle(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	token, err := repo.Reserve(ctx, "k1", "u1", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	// second reservation while the first is live fails
	again, err := repo.Reserve(ctx, "k1", "u1", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)

	rec, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatePending, rec.State)
	assert.Equal(t, token, rec.Token)

	// another user is unaffected
	other, err := repo.Reserve(ctx, "k1", "u2", time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, other)

	// stale reservation can be taken over
	*now = now.Add(2 * time.Minute)
	token, err = repo.Reserve(ctx, "k1", "u1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// completing the reservation
	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 204, Token: token}))
	rec, err = repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State)

	// completed records block reservations
	again, err = repo.Reserve(ctx, "k1", "u1", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRepository_RenewKeepsReservationAlive(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	token, err := repo.Reserve(ctx, "k1", "u1", time.Second)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		*now = now.Add(500 * time.Millisecond)
		held, err := repo.Renew(ctx, "k1", "u1", token, time.Second)
		require.NoError(t, err)
		require.True(t, held)
	}

	// well past the original lease, the key is still taken
	retry, err := repo.Reserve(ctx, "k1", "u1", time.Second)
	require.NoError(t, err)
	assert.Empty(t, retry)

	held, err := repo.Renew(ctx, "k1", "u1", "someone-else", time.Second)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestRepository_StaleTokenCannotCompleteTakenOverKey(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.Reserve(ctx, "k1", "u1", time.Second)
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	second, err := repo.Reserve(ctx, "k1", "u1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)

	// the original holder can neither renew, complete nor release
	held, err := repo.Renew(ctx, "k1", "u1", first, time.Second)
	require.NoError(t, err)
	assert.False(t, held)

	err = repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 201, Body: []byte("first"), Token: first})
	assert.ErrorIs(t, err, ErrReservationLost)

	require.NoError(t, repo.Release(ctx, "k1", "u1", first))
	rec, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatePending, rec.State)
	assert.Equal(t, second, rec.Token)

	require.NoError(t, repo.Put(ctx, &Record{Key: "k1", UserID: "u1", StatusCode: 201, Body: []byte("second"), Token: second}))
	rec, err = repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), rec.Body)
}

func TestRepository_ReleaseOnlyDropsPending(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	token, err := repo.Reserve(ctx, "k1", "u1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, repo.Release(ctx, "k1", "u1", token))

	rec, err := repo.Get(ctx, "k1", "u1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, repo.Put(ctx, &Record{Key: "k2", UserID: "u1", StatusCode: 201}))
	require.NoError(t, repo.Release(ctx, "k2", "u1", ""))
	rec, err = repo.Get(ctx, "k2", "u1")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestCleanupJob(t *testing.T) {
	repo, now := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &Record{Key: "old", UserID: "u1", StatusCode: 201}))
	*now = now.Add(TTLCompletedRecord + time.Hour)
	require.NoError(t, repo.Put(ctx, &Record{Key: "new", UserID: "u1", StatusCode: 201}))

	job := NewCleanupJob(repo, zerolog.Nop())
	assert.Equal(t, "idempotency_cleanup", job.Name())
	require.NoError(t, job.Run())

	var count int
	require.NoError(t, repo.db.QueryRow("SELECT COUNT(*) FROM idempotency_keys").Scan(&count))
	assert.Equal(t, 1, count)
}
