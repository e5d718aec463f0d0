// Package idempotency makes mutating HTTP requests safe to retry: the first
// terminal response for an (Idempotency-Key, user) pair is stored and
// replayed byte-for-byte for every later request with the same pair.
package idempotency

import "time"

// HeaderKey is the request header carrying the client's idempotency key
const HeaderKey = "Idempotency-Key"

// HeaderReplayed is set on responses served from the store
const HeaderReplayed = "Idempotency-Replayed"

// TTLCompletedRecord is how long a completed response stays replayable
const TTLCompletedRecord = 24 * time.Hour

// State of a stored record
type State string

const (
	// StatePending marks a key reserved by an in-flight request
	StatePending State = "pending"
	// StateCompleted marks a key with a stored terminal response
	StateCompleted State = "completed"
)

// Record is a stored response for one (key, user) pair
type Record struct {
	Key         string
	UserID      string
	State       State
	StatusCode  int
	ContentType string
	Body        []byte
	// Token is the reservation a completed record replaces; empty when the
	// record is stored without one
	Token       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the record is past its expiry at now
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
