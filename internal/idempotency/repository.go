package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRecordExists is returned by Put when a completed record already
	// exists for the key and user. Completed records are never overwritten.
	ErrRecordExists = errors.New("idempotency record already exists")
	// ErrReservationLost is returned by Put when the pending row belongs to
	// another request's reservation
	ErrReservationLost = errors.New("idempotency reservation held by another request")
)

// Repository stores idempotency records in the idempotency database.
// Timestamps are stored as unix milliseconds.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new idempotency repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Get returns the live record for (key, userID). A key held by a different
// user, an expired record and a missing record all yield nil, nil.
func (r *Repository) Get(ctx context.Context, key, userID string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT idempotency_key, user_id, state, status_code, content_type, body, reservation_token, created_at, expires_at
		FROM idempotency_keys
		WHERE idempotency_key = ? AND user_id = ? AND expires_at > ?`,
		key, userID, r.now().UnixMilli(),
	)

	var (
		rec       Record
		state     string
		body      []byte
		createdAt int64
		expiresAt int64
	)
	err := row.Scan(&rec.Key, &rec.UserID, &state, &rec.StatusCode, &rec.ContentType, &body, &rec.Token, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	rec.State = State(state)
	rec.Body = body
	if rec.Body == nil {
		rec.Body = []byte{}
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.ExpiresAt = time.UnixMilli(expiresAt)
	return &rec, nil
}

// Reserve marks (key, userID) as in flight for lease and returns the
// reservation token. The token is empty if the pair already has a live
// record, pending or completed. Expired records of either state are taken
// over.
func (r *Repository) Reserve(ctx context.Context, key, userID string, lease time.Duration) (string, error) {
	now := r.now()
	token := uuid.NewString()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, user_id, state, status_code, content_type, body, reservation_token, created_at, expires_at)
		VALUES (?, ?, 'pending', 0, '', NULL, ?, ?, ?)
		ON CONFLICT (idempotency_key, user_id) DO UPDATE SET
			state = 'pending',
			status_code = 0,
			content_type = '',
			body = NULL,
			reservation_token = excluded.reservation_token,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE idempotency_keys.expires_at <= ?`,
		key, userID, token, now.UnixMilli(), now.Add(lease).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to reserve idempotency key: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read reservation result: %w", err)
	}
	if affected != 1 {
		return "", nil
	}
	return token, nil
}

// Renew extends a pending reservation to now+lease. It reports false when
// token no longer holds the reservation.
func (r *Repository) Renew(ctx context.Context, key, userID, token string, lease time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys SET expires_at = ?
		WHERE idempotency_key = ? AND user_id = ? AND state = 'pending' AND reservation_token = ?`,
		r.now().Add(lease).UnixMilli(), key, userID, token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to renew idempotency reservation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read renewal result: %w", err)
	}
	return affected == 1, nil
}

// Put stores a completed record. It creates the row if absent, completes
// the pending reservation named by rec.Token, or replaces an expired row.
// A live completed record yields ErrRecordExists and a live reservation
// held by another token yields ErrReservationLost; neither is modified.
func (r *Repository) Put(ctx context.Context, rec *Record) error {
	now := r.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.ExpiresAt.IsZero() {
		rec.ExpiresAt = now.Add(TTLCompletedRecord)
	}
	rec.State = StateCompleted

	body := rec.Body
	if body == nil {
		body = []byte{}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, user_id, state, status_code, content_type, body, reservation_token, created_at, expires_at)
		VALUES (?, ?, 'completed', ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key, user_id) DO UPDATE SET
			state = 'completed',
			status_code = excluded.status_code,
			content_type = excluded.content_type,
			body = excluded.body,
			reservation_token = excluded.reservation_token,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
		WHERE (idempotency_keys.state = 'pending' AND idempotency_keys.reservation_token = excluded.reservation_token)
			OR idempotency_keys.expires_at <= ?`,
		rec.Key, rec.UserID, rec.StatusCode, rec.ContentType, body, rec.Token,
		rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read store result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	existing, err := r.Get(ctx, rec.Key, rec.UserID)
	if err != nil {
		return err
	}
	if existing != nil && existing.State == StatePending {
		return ErrReservationLost
	}
	return ErrRecordExists
}

// Release drops the pending reservation held by token so the key can be
// retried
func (r *Repository) Release(ctx context.Context, key, userID, token string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE idempotency_key = ? AND user_id = ? AND state = 'pending' AND reservation_token = ?`,
		key, userID, token,
	)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired removes every record past its expiry
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM idempotency_keys WHERE expires_at <= ?", r.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	return res.RowsAffected()
}
