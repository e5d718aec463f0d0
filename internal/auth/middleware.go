package auth

import (
	"net/http"
	"strings"

	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/rs/zerolog"
)

// Authenticator resolves callers from bearer tokens
type Authenticator struct {
	verifier TokenVerifier
	log      zerolog.Logger
}

// NewAuthenticator creates an authenticator backed by verifier
func NewAuthenticator(verifier TokenVerifier, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		verifier: verifier,
		log:      log.With().Str("component", "authenticator").Logger(),
	}
}

// ResolveUser verifies the request's token and returns the request with the
// identity attached. An identity already on the context is reused.
func (a *Authenticator) ResolveUser(r *http.Request) (*http.Request, string, error) {
	if id, ok := FromContext(r.Context()); ok {
		return r, id.Subject, nil
	}

	id, err := a.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		return r, "", err
	}

	return r.WithContext(WithIdentity(r.Context(), id)), id.Subject, nil
}

// Handler rejects requests without a valid token with 401
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, _, err := a.ResolveUser(r)
		if err != nil {
			a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			httputil.WriteErrorCode(w, a.log, http.StatusUnauthorized, domain.CodeUnauthenticated,
				"Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header. Browsers
// cannot set headers on websocket upgrades, so those may use ?access_token=.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
