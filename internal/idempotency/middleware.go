package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// UserResolver authenticates a request. It returns the request with the
// identity attached to its context and the caller's user id.
type UserResolver interface {
	ResolveUser(r *http.Request) (*http.Request, string, error)
}

// Store is the persistence the middleware needs
type Store interface {
	Get(ctx context.Context, key, userID string) (*Record, error)
	Reserve(ctx context.Context, key, userID string, lease time.Duration) (string, error)
	Renew(ctx context.Context, key, userID, token string, lease time.Duration) (bool, error)
	Put(ctx context.Context, rec *Record) error
	Release(ctx context.Context, key, userID, token string) error
}

// Options tunes record lifetimes. A reservation is renewed every third of
// its lease for as long as the handler runs.
type Options struct {
	RecordTTL        time.Duration
	ReservationLease time.Duration
}

// minReservationLease keeps the renewal ticker interval positive
const minReservationLease = 30 * time.Millisecond

// Middleware enforces the idempotency protocol on POST, PUT and DELETE
type Middleware struct {
	store Store
	users UserResolver
	opts  Options
	log   zerolog.Logger
}

// NewMiddleware creates the idempotency middleware
func NewMiddleware(store Store, users UserResolver, opts Options, log zerolog.Logger) *Middleware {
	if opts.RecordTTL <= 0 {
		opts.RecordTTL = TTLCompletedRecord
	}
	if opts.ReservationLease <= 0 {
		opts.ReservationLease = time.Minute
	}
	if opts.ReservationLease < minReservationLease {
		opts.ReservationLease = minReservationLease
	}
	return &Middleware{
		store: store,
		users: users,
		opts:  opts,
		log:   log.With().Str("component", "idempotency").Logger(),
	}
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
}

// cacheable reports whether a status is a terminal outcome worth replaying.
// Authentication, timeout and throttling failures are left retryable, as
// are all 5xx responses.
func cacheable(status int) bool {
	switch {
	case status >= 200 && status < 300:
		return true
	case status == http.StatusUnauthorized,
		status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests:
		return false
	case status >= 400 && status < 500:
		return true
	default:
		return false
	}
}

// Handler wraps next with the idempotency protocol
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		rawKey := r.Header.Get(HeaderKey)
		if rawKey == "" {
			httputil.WriteErrorCode(w, m.log, http.StatusBadRequest, domain.CodeIdempotencyKeyMissing,
				"Idempotency-Key header is required")
			return
		}

		parsed, err := uuid.Parse(rawKey)
		if err != nil {
			httputil.WriteErrorCode(w, m.log, http.StatusUnprocessableEntity, domain.CodeIdempotencyKeyInvalid,
				"Idempotency-Key must be a valid UUID")
			return
		}
		key := parsed.String()

		r, userID, err := m.users.ResolveUser(r)
		if err != nil {
			m.log.Debug().Err(err).Msg("Rejecting unauthenticated mutating request")
			httputil.WriteErrorCode(w, m.log, http.StatusUnauthorized, domain.CodeUnauthenticated,
				"Authentication required")
			return
		}

		ctx := r.Context()
		log := m.log.With().Str("idempotency_key", key).Str("user_id", userID).Logger()

		if rec, err := m.store.Get(ctx, key, userID); err != nil {
			log.Error().Err(err).Msg("Failed to look up idempotency record")
			httputil.WriteError(w, log, err)
			return
		} else if rec != nil {
			m.respondExisting(w, rec, log)
			return
		}

		token, err := m.store.Reserve(ctx, key, userID, m.opts.ReservationLease)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reserve idempotency key")
			httputil.WriteError(w, log, err)
			return
		}
		if token == "" {
			// Lost the race to a concurrent request with the same key
			rec, err := m.store.Get(ctx, key, userID)
			if err != nil {
				httputil.WriteError(w, log, err)
				return
			}
			if rec != nil && rec.State == StateCompleted {
				m.respondExisting(w, rec, log)
				return
			}
			m.writeInProgress(w)
			return
		}

		m.execute(w, r, next, key, userID, token, log)
	})
}

func (m *Middleware) execute(w http.ResponseWriter, r *http.Request, next http.Handler, key, userID, token string, log zerolog.Logger) {
	// Persistence must survive the client going away mid-request
	storeCtx := context.WithoutCancel(r.Context())

	capture := newResponseCapture(w)
	completed := false
	defer func() {
		if !completed {
			if err := m.store.Release(storeCtx, key, userID, token); err != nil {
				log.Error().Err(err).Msg("Failed to release idempotency key")
			}
		}
	}()

	stopRenewal := m.keepReserved(storeCtx, key, userID, token, log)
	defer stopRenewal()

	next.ServeHTTP(capture, r)
	stopRenewal()

	if cacheable(capture.status) {
		now := time.Now()
		err := m.store.Put(storeCtx, &Record{
			Key:         key,
			UserID:      userID,
			StatusCode:  capture.status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
			Token:       token,
			CreatedAt:   now,
			ExpiresAt:   now.Add(m.opts.RecordTTL),
		})
		switch {
		case err == nil:
			completed = true
		case errors.Is(err, ErrRecordExists):
			completed = true
			log.Warn().Msg("Idempotency record was completed concurrently")
		case errors.Is(err, ErrReservationLost):
			completed = true
			log.Error().Msg("Idempotency reservation was taken over while the request ran")
		default:
			log.Error().Err(err).Msg("Failed to store idempotency record")
		}
	} else {
		log.Debug().Int("status", capture.status).Msg("Response not cacheable, releasing key")
	}

	capture.flush()
}

// keepReserved renews the reservation until the returned stop function is
// called. stop waits for the renewal goroutine and is safe to call twice.
func (m *Middleware) keepReserved(ctx context.Context, key, userID, token string, log zerolog.Logger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(m.opts.ReservationLease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := m.store.Renew(ctx, key, userID, token, m.opts.ReservationLease)
				if err != nil {
					log.Warn().Err(err).Msg("Failed to renew idempotency reservation")
					continue
				}
				if !held {
					log.Error().Msg("Idempotency reservation lost while the request ran")
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (m *Middleware) respondExisting(w http.ResponseWriter, rec *Record, log zerolog.Logger) {
	if rec.State != StateCompleted {
		m.writeInProgress(w)
		return
	}

	log.Debug().Int("status", rec.StatusCode).Msg("Replaying stored response")
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(rec.StatusCode)
	if len(rec.Body) > 0 {
		_, _ = w.Write(rec.Body)
	}
}

func (m *Middleware) writeInProgress(w http.ResponseWriter) {
	httputil.WriteErrorCode(w, m.log, http.StatusConflict, domain.CodeIdempotencyInProgress,
		"A request with this Idempotency-Key is still being processed")
}
