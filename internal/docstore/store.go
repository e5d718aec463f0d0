// Package docstore is the document persistence gateway: typed documents
// addressed by collection and key, stored in Badger through badgerhold.
//
// All writes go through Update, which runs the callback in a serializable
// Badger transaction. Every key read inside the callback is tracked, so a
// check-then-write sequence commits only if nothing it read was changed by
// a concurrent transaction; on conflict the callback is re-run.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotFound is returned when a document does not exist
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Insert when the key is taken
	ErrAlreadyExists = errors.New("document already exists")
	// ErrConflict is returned when a transaction keeps conflicting after all retries
	ErrConflict = errors.New("transaction conflict")
)

const defaultMaxRetries = 8

// Options configures the underlying Badger database
type Options struct {
	Path     string
	InMemory bool
}

// Store is a handle to the document database
type Store struct {
	hold       *badgerhold.Store
	log        zerolog.Logger
	maxRetries int
}

// Open opens (or creates) the document database
func Open(opts Options, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "docstore").Logger()

	options := badgerhold.DefaultOptions
	options.Encoder = msgpack.Marshal
	options.Decoder = msgpack.Unmarshal

	if opts.InMemory {
		options.Options = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create document store directory: %w", err)
		}
		options.Options = badger.DefaultOptions(opts.Path)
	}
	options.Logger = badgerLogger{log: log}

	hold, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	log.Debug().Str("path", opts.Path).Bool("in_memory", opts.InMemory).Msg("Document store opened")

	return &Store{hold: hold, log: log, maxRetries: defaultMaxRetries}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.hold.Close()
}

// Update runs fn in a read-write transaction and commits it. Conflicting
// commits are retried with a fresh transaction, so fn must not have side
// effects outside tx.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.hold.Badger().Update(func(txn *badger.Txn) error {
			return fn(&Tx{hold: s.hold, txn: txn})
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}

		if attempt >= s.maxRetries {
			s.log.Warn().Int("attempts", attempt).Msg("Giving up on conflicting transaction")
			return ErrConflict
		}

		s.log.Debug().Int("attempt", attempt).Msg("Transaction conflict, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 2 * time.Millisecond):
		}
	}
}

// View runs fn in a read-only transaction
func (s *Store) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.hold.Badger().View(func(txn *badger.Txn) error {
		return fn(&Tx{hold: s.hold, txn: txn})
	})
}

// Backup writes a full backup of the database to w
func (s *Store) Backup(w io.Writer) (uint64, error) {
	since, err := s.hold.Badger().Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to back up document store: %w", err)
	}
	return since, nil
}

// Tx is a transaction scoped view of the store
type Tx struct {
	hold *badgerhold.Store
	txn  *badger.Txn
}

// Get loads the document stored under key into dst
func (t *Tx) Get(key string, dst interface{}) error {
	err := t.hold.TxGet(t.txn, key, dst)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Exists reports whether a document of v's type exists under key
func (t *Tx) Exists(key string, v interface{}) (bool, error) {
	err := t.Get(key, v)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Insert stores v under key, failing with ErrAlreadyExists if taken
func (t *Tx) Insert(key string, v interface{}) error {
	err := t.hold.TxInsert(t.txn, key, v)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return ErrAlreadyExists
	}
	return err
}

// Upsert stores v under key, replacing any existing document
func (t *Tx) Upsert(key string, v interface{}) error {
	return t.hold.TxUpsert(t.txn, key, v)
}

// Delete removes the document of dataType's type stored under key
func (t *Tx) Delete(key string, dataType interface{}) error {
	err := t.hold.TxDelete(t.txn, key, dataType)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Find loads every document matching q into dst, a pointer to a slice.
// A nil query matches all documents of the slice's element type.
func (t *Tx) Find(dst interface{}, q *badgerhold.Query) error {
	return t.hold.TxFind(t.txn, dst, q)
}

// badgerLogger routes Badger's internal logging through zerolog
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
