package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingVerifier struct {
	calls int
}

func (c *countingVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	c.calls++
	if token == "good" {
		return &Identity{Subject: "u1", Email: "u1@example.com"}, nil
	}
	return nil, errors.New("bad token")
}

func TestAuthenticator_Handler(t *testing.T) {
	verifier := &countingVerifier{}
	a := NewAuthenticator(verifier, zerolog.Nop())

	var seen string
	h := a.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen)

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "U_E_3101")

	req = httptest.NewRequest(http.MethodGet, "/users/me", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_ReusesContextIdentity(t *testing.T) {
	verifier := &countingVerifier{}
	a := NewAuthenticator(verifier, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer good")

	req, uid, err := a.ResolveUser(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, uid, err = a.ResolveUser(req)
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)
	assert.Equal(t, 1, verifier.calls)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer abc ")
	assert.Equal(t, "abc", bearerToken(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", bearerToken(req))

	req = httptest.NewRequest(http.MethodGet, "/stream?access_token=ws-token", nil)
	assert.Equal(t, "", bearerToken(req), "query tokens only for websocket upgrades")

	req.Header.Set("Upgrade", "websocket")
	assert.Equal(t, "ws-token", bearerToken(req))
}
