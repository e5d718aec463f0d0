package docstore

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"
)

type testDoc struct {
	ID    string
	Owner string
	N     int
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.Insert("a", &testDoc{ID: "a", Owner: "u1", N: 1})
	}))

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.Insert("a", &testDoc{ID: "a"})
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	var got testDoc
	require.NoError(t, s.View(ctx, func(tx *Tx) error { return tx.Get("a", &got) }))
	assert.Equal(t, "u1", got.Owner)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error { return tx.Delete("a", testDoc{}) }))

	err = s.View(ctx, func(tx *Tx) error { return tx.Get("a", &got) })
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Update(ctx, func(tx *Tx) error { return tx.Delete("a", testDoc{}) })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.Upsert("x", &testDoc{ID: "x"})
	}))

	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		ok, err := tx.Exists("x", &testDoc{})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Exists("y", &testDoc{})
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		for _, d := range []testDoc{{"1", "u1", 1}, {"2", "u2", 2}, {"3", "u1", 3}} {
			d := d
			if err := tx.Insert(d.ID, &d); err != nil {
				return err
			}
		}
		return nil
	}))

	var docs []testDoc
	require.NoError(t, s.View(ctx, func(tx *Tx) error {
		return tx.Find(&docs, badgerhold.Where("Owner").Eq("u1"))
	}))
	assert.Len(t, docs, 2)

	var all []testDoc
	require.NoError(t, s.View(ctx, func(tx *Tx) error { return tx.Find(&all, nil) }))
	assert.Len(t, all, 3)
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Insert("a", &testDoc{ID: "a"}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx *Tx) error { return tx.Get("a", &testDoc{}) })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_RetriesOnConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.Upsert("k", &testDoc{ID: "k", N: 1})
	}))

	attempts := 0
	err := s.Update(ctx, func(tx *Tx) error {
		attempts++
		var d testDoc
		if err := tx.Get("k", &d); err != nil {
			return err
		}
		if attempts == 1 {
			// another writer commits after our read
			require.NoError(t, s.Update(ctx, func(other *Tx) error {
				return other.Upsert("k", &testDoc{ID: "k", N: 99})
			}))
		}
		d.N++
		return tx.Upsert("k", &d)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var got testDoc
	require.NoError(t, s.View(ctx, func(tx *Tx) error { return tx.Get("k", &got) }))
	assert.Equal(t, 100, got.N)
}

func TestUpdate_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, func(tx *Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackup(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		return tx.Upsert("a", &testDoc{ID: "a"})
	}))

	var buf bytes.Buffer
	_, err := s.Backup(&buf)
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0)
}
