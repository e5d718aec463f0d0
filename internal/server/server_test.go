package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/config"
	"github.com/aristath/sentinel-invest/internal/database"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/idempotency"
	"github.com/aristath/sentinel-invest/internal/scheduler"
	testingpkg "github.com/aristath/sentinel-invest/internal/testing"
)

// echoRoutes creates a resource per POST and echoes the caller on GET
type echoRoutes struct {
	created atomic.Int32
}

func (e *echoRoutes) RegisterRoutes(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, zerolog.Nop(), http.StatusOK, map[string]string{"uid": auth.UserID(r.Context())})
	})
	r.Post("/things", func(w http.ResponseWriter, r *http.Request) {
		n := e.created.Add(1)
		httputil.WriteJSON(w, zerolog.Nop(), http.StatusCreated, map[string]string{"id": fmt.Sprintf("thing-%d", n)})
	})
}

type taskRoutes struct{}

func (taskRoutes) RegisterRoutes(r chi.Router) {
	r.Post("/tasks/noop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type staticJobs []scheduler.EntryStatus

func (s staticJobs) Entries() []scheduler.EntryStatus { return s }

type staticClients int

func (c staticClients) Clients() int { return int(c) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RateLimitRPS = 0
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (http.Handler, *echoRoutes) {
	t.Helper()
	authn := auth.NewAuthenticator(testingpkg.StaticVerifier{}, zerolog.Nop())
	repo := idempotency.NewRepository(testingpkg.NewTestDB(t, database.NameIdempotency).Conn())
	idem := idempotency.NewMiddleware(repo, authn, idempotency.Options{}, zerolog.Nop())
	db := testingpkg.NewTestDB(t, database.NameHistory)

	routes := &echoRoutes{}
	srv := New(Config{
		Log:          zerolog.Nop(),
		Config:       cfg,
		Idempotency:  idem.Handler,
		Authenticate: authn.Handler,
		Routes:       []RouteRegistrar{routes},
		Tasks:        []RouteRegistrar{taskRoutes{}},
		System: NewSystemHandlers([]*database.DB{db}, t.TempDir(), "test",
			staticJobs{{Job: "market_sync", Schedule: "0 30 22 * * MON-FRI", Next: time.Now()}},
			staticClients(2), zerolog.Nop()),
	})
	return srv.Handler(), routes
}

func do(h http.Handler, method, path, uid, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	if uid != "" {
		req.Header.Set("Authorization", "Bearer uid:"+uid)
	}
	if key != "" {
		req.Header.Set(idempotency.HeaderKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func code(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	rec := do(h, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Databases[database.NameHistory])
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	rec := do(h, http.MethodGet, "/api/v1/whoami", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "U_E_3101", code(t, rec))

	rec = do(h, http.MethodGet, "/api/v1/whoami", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"uid":"u1"}`, rec.Body.String())
}

func TestAPI_IdempotencyBeforeAuthentication(t *testing.T) {
	h, routes := newTestServer(t, testConfig())

	// missing key is reported before the missing token
	rec := do(h, http.MethodPost, "/api/v1/things", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "I_E_1101", code(t, rec))

	key := uuid.NewString()
	first := do(h, http.MethodPost, "/api/v1/things", "u1", key)
	second := do(h, http.MethodPost, "/api/v1/things", "u1", key)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplayed))
	assert.Equal(t, int32(1), routes.created.Load())
}

func TestAPI_TaskRoutesMounted(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	rec := do(h, http.MethodPost, "/api/v1/tasks/noop", "u1", uuid.NewString())
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/api/v1/tasks/noop", "", uuid.NewString())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSystemStatus(t *testing.T) {
	h, _ := newTestServer(t, testConfig())

	rec := do(h, http.MethodGet, "/api/v1/system/status", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)
	require.Len(t, body.Databases, 1)
	assert.Equal(t, database.NameHistory, body.Databases[0].Name)
	require.Len(t, body.Jobs, 1)
	assert.Equal(t, "market_sync", body.Jobs[0].Job)
	assert.Equal(t, 2, body.StreamClients)
	assert.Greater(t, body.Goroutines, 0)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	h, _ := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", "", "").Code)
	}
	rec := do(h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "SYS_E_4291", code(t, rec))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimit_PerClient(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 1, zerolog.Nop())
	h := limiter.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1111"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:2222"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1111"))
}
