package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCredentialResolver(t *testing.T) {
	_, err := NewCredentialResolver(CredentialConfig{Strategy: "guess"})
	assert.Error(t, err)

	_, err = NewCredentialResolver(CredentialConfig{Strategy: StrategyKeyFile})
	assert.Error(t, err)

	r, err := NewCredentialResolver(CredentialConfig{Strategy: StrategyEmulator, ProjectID: testProject})
	require.NoError(t, err)
	creds, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, creds.Emulator)
	assert.Nil(t, creds.TokenSource)
	assert.Equal(t, testProject, creds.ProjectID)
}

func TestKeyFileResolver_MissingFile(t *testing.T) {
	r, err := NewCredentialResolver(CredentialConfig{
		Strategy: StrategyKeyFile,
		KeyFile:  filepath.Join(t.TempDir(), "missing.json"),
	})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.json")
}

func TestDefaultKeyFileResolver_UsesDefaultName(t *testing.T) {
	r, err := NewCredentialResolver(CredentialConfig{Strategy: StrategyDefaultKeyFile})
	require.NoError(t, err)
	assert.Equal(t, "serviceAccountKey.json", r.(keyFileResolver).path)
}

func TestIdentityToolkitRevoker_Emulator(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody accountsUpdateRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{"localId":"u1"}`))
	}))
	defer srv.Close()

	creds := &Credentials{ProjectID: testProject, Emulator: true}
	rev := NewIdentityToolkitRevoker(context.Background(), creds, strings.TrimPrefix(srv.URL, "http://"), zerolog.Nop())
	rev.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, rev.RevokeRefreshTokens(context.Background(), "u1"))
	assert.Equal(t, "/identitytoolkit.googleapis.com/v1/projects/"+testProject+"/accounts:update", gotPath)
	assert.Equal(t, "Bearer owner", gotAuth)
	assert.Equal(t, "u1", gotBody.LocalID)
	assert.Equal(t, "1700000000", gotBody.ValidSince)
}

func TestIdentityToolkitRevoker_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"USER_NOT_FOUND"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	creds := &Credentials{ProjectID: testProject, Emulator: true}
	rev := NewIdentityToolkitRevoker(context.Background(), creds, strings.TrimPrefix(srv.URL, "http://"), zerolog.Nop())

	err := rev.RevokeRefreshTokens(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "USER_NOT_FOUND")
}

func TestNoopRevoker(t *testing.T) {
	assert.NoError(t, NoopRevoker{}.RevokeRefreshTokens(context.Background(), "u1"))
}
