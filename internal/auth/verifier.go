package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Mode selects how tokens are verified
type Mode string

const (
	// ModeFirebase verifies RS256 tokens against Google's published certificates
	ModeFirebase Mode = "firebase"
	// ModeHMAC verifies HS256 tokens signed with a shared secret
	ModeHMAC Mode = "hmac"
	// ModeEmulator accepts the unsigned tokens issued by the auth emulator
	ModeEmulator Mode = "emulator"
)

// DefaultCertsURL publishes the x509 certificates that sign Firebase ID tokens
const DefaultCertsURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

var (
	// ErrMissingToken is returned when no bearer token was presented
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for any token that fails verification
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier turns a bearer token into a verified identity
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// VerifierConfig configures a Verifier
type VerifierConfig struct {
	Mode       Mode
	ProjectID  string
	HMACSecret string
	CertsURL   string
	HTTPClient *http.Client
}

// Verifier validates ID tokens. Issuer and audience must match the project.
type Verifier struct {
	cfg    VerifierConfig
	parser *jwt.Parser
	certs  *cache.Cache
	log    zerolog.Logger
}

type tokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

const certsCacheKey = "certs"

// NewVerifier creates a token verifier for the configured mode
func NewVerifier(cfg VerifierConfig, log zerolog.Logger) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project id is required for token verification")
	}

	var methods []string
	switch cfg.Mode {
	case ModeFirebase:
		methods = []string{jwt.SigningMethodRS256.Alg()}
	case ModeHMAC:
		if cfg.HMACSecret == "" {
			return nil, fmt.Errorf("hmac secret is required in hmac mode")
		}
		methods = []string{jwt.SigningMethodHS256.Alg()}
	case ModeEmulator:
		methods = []string{jwt.SigningMethodNone.Alg()}
	default:
		return nil, fmt.Errorf("unknown token mode: %q", cfg.Mode)
	}

	if cfg.CertsURL == "" {
		cfg.CertsURL = DefaultCertsURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(methods),
		jwt.WithIssuer("https://securetoken.google.com/"+cfg.ProjectID),
		jwt.WithAudience(cfg.ProjectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
	)

	return &Verifier{
		cfg:    cfg,
		parser: parser,
		certs:  cache.New(time.Hour, 10*time.Minute),
		log:    log.With().Str("component", "token_verifier").Str("mode", string(cfg.Mode)).Logger(),
	}, nil
}

// Verify validates token and returns the identity it asserts
func (v *Verifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var claims tokenClaims
	parsed, err := v.parser.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.key(ctx, t)
	})
	if err != nil {
		v.log.Debug().Err(err).Msg("Token rejected")
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	raw := map[string]interface{}{}
	if mc, err := v.rawClaims(token); err == nil {
		raw = mc
	}

	return &Identity{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Claims:      raw,
	}, nil
}

func (v *Verifier) key(ctx context.Context, t *jwt.Token) (interface{}, error) {
	switch v.cfg.Mode {
	case ModeHMAC:
		return []byte(v.cfg.HMACSecret), nil
	case ModeEmulator:
		return jwt.UnsafeAllowNoneSignatureType, nil
	}

	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}

	keys, err := v.publicKeys(ctx)
	if err != nil {
		return nil, err
	}
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

// publicKeys returns the signing keys, refetching once the cached set
// passes the max-age its response advertised.
func (v *Verifier) publicKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	if cached, ok := v.certs.Get(certsCacheKey); ok {
		return cached.(map[string]*rsa.PublicKey), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.CertsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build certificates request: %w", err)
	}

	resp, err := v.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signing certificates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing certificates endpoint returned %d", resp.StatusCode)
	}

	var pems map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&pems); err != nil {
		return nil, fmt.Errorf("failed to decode signing certificates: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(pems))
	for kid, pem := range pems {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			v.log.Warn().Err(err).Str("kid", kid).Msg("Skipping unparseable signing certificate")
			continue
		}
		keys[kid] = key
	}

	ttl := maxAge(resp.Header.Get("Cache-Control"))
	v.certs.Set(certsCacheKey, keys, ttl)
	v.log.Debug().Int("keys", len(keys)).Dur("ttl", ttl).Msg("Refreshed signing certificates")

	return keys, nil
}

func (v *Verifier) rawClaims(token string) (map[string]interface{}, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return nil, err
	}
	return mc, nil
}

// maxAge extracts max-age from a Cache-Control header, defaulting to one hour
func maxAge(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return time.Hour
}
