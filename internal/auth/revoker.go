package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Revoker invalidates a user's refresh tokens
type Revoker interface {
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// NoopRevoker is used when there is no identity provider to call
type NoopRevoker struct{}

// RevokeRefreshTokens does nothing
func (NoopRevoker) RevokeRefreshTokens(ctx context.Context, uid string) error {
	return nil
}

const identityToolkitURL = "https://identitytoolkit.googleapis.com"

// IdentityToolkitRevoker revokes tokens by moving the account's validSince
// forward through the Identity Toolkit accounts:update endpoint.
type IdentityToolkitRevoker struct {
	client    *http.Client
	baseURL   string
	projectID string
	emulator  bool
	now       func() time.Time
	log       zerolog.Logger
}

// NewIdentityToolkitRevoker builds a revoker from resolved credentials.
// With emulator credentials requests go to emulatorHost.
func NewIdentityToolkitRevoker(ctx context.Context, creds *Credentials, emulatorHost string, log zerolog.Logger) *IdentityToolkitRevoker {
	r := &IdentityToolkitRevoker{
		projectID: creds.ProjectID,
		emulator:  creds.Emulator,
		now:       time.Now,
		log:       log.With().Str("component", "token_revoker").Logger(),
	}

	if creds.Emulator {
		r.client = &http.Client{Timeout: 10 * time.Second}
		r.baseURL = "http://" + emulatorHost + "/identitytoolkit.googleapis.com"
	} else {
		r.client = oauth2.NewClient(ctx, creds.TokenSource)
		r.client.Timeout = 10 * time.Second
		r.baseURL = identityToolkitURL
	}

	return r
}

type accountsUpdateRequest struct {
	LocalID    string `json:"localId"`
	ValidSince string `json:"validSince"`
}

// RevokeRefreshTokens invalidates every session issued to uid before now
func (r *IdentityToolkitRevoker) RevokeRefreshTokens(ctx context.Context, uid string) error {
	payload, err := json.Marshal(accountsUpdateRequest{
		LocalID:    uid,
		ValidSince: strconv.FormatInt(r.now().Unix(), 10),
	})
	if err != nil {
		return fmt.Errorf("failed to encode revoke request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/projects/%s/accounts:update", r.baseURL, r.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.emulator {
		// the emulator grants admin rights to this token
		req.Header.Set("Authorization", "Bearer owner")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call identity toolkit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("identity toolkit returned %d: %s", resp.StatusCode, string(body))
	}

	r.log.Info().Str("uid", uid).Msg("Revoked refresh tokens")
	return nil
}
