package auth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CredentialStrategy names how service credentials are obtained
type CredentialStrategy string

const (
	// StrategyEmulator uses no credentials; the auth emulator accepts any caller
	StrategyEmulator CredentialStrategy = "emulator"
	// StrategyKeyFile loads an explicitly configured service account key
	StrategyKeyFile CredentialStrategy = "key_file"
	// StrategyDefaultKeyFile loads the service account key from its default location
	StrategyDefaultKeyFile CredentialStrategy = "default_key_file"
	// StrategyApplicationDefault uses Google application default credentials
	StrategyApplicationDefault CredentialStrategy = "application_default"
)

// Scopes requested for identity provider administration
var Scopes = []string{
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/cloud-platform",
}

// Credentials are the resolved service credentials
type Credentials struct {
	ProjectID   string
	TokenSource oauth2.TokenSource // nil in emulator mode
	Emulator    bool
}

// CredentialConfig selects and parameterizes a strategy
type CredentialConfig struct {
	Strategy       CredentialStrategy
	ProjectID      string
	KeyFile        string
	DefaultKeyFile string
}

// CredentialResolver produces service credentials
type CredentialResolver interface {
	Resolve(ctx context.Context) (*Credentials, error)
}

// NewCredentialResolver returns the resolver for cfg.Strategy. There is no
// fallback between strategies: a misconfigured strategy fails at Resolve.
func NewCredentialResolver(cfg CredentialConfig) (CredentialResolver, error) {
	switch cfg.Strategy {
	case StrategyEmulator:
		return emulatorResolver{projectID: cfg.ProjectID}, nil
	case StrategyKeyFile:
		if cfg.KeyFile == "" {
			return nil, fmt.Errorf("key_file strategy requires a key file path")
		}
		return keyFileResolver{path: cfg.KeyFile, projectID: cfg.ProjectID}, nil
	case StrategyDefaultKeyFile:
		path := cfg.DefaultKeyFile
		if path == "" {
			path = "serviceAccountKey.json"
		}
		return keyFileResolver{path: path, projectID: cfg.ProjectID}, nil
	case StrategyApplicationDefault:
		return applicationDefaultResolver{projectID: cfg.ProjectID}, nil
	default:
		return nil, fmt.Errorf("unknown credential strategy: %q", cfg.Strategy)
	}
}

type emulatorResolver struct {
	projectID string
}

func (e emulatorResolver) Resolve(ctx context.Context) (*Credentials, error) {
	return &Credentials{ProjectID: e.projectID, Emulator: true}, nil
}

type keyFileResolver struct {
	path      string
	projectID string
}

func (k keyFileResolver) Resolve(ctx context.Context) (*Credentials, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account key %s: %w", k.path, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account key %s: %w", k.path, err)
	}

	return &Credentials{ProjectID: pickProject(k.projectID, creds.ProjectID), TokenSource: creds.TokenSource}, nil
}

type applicationDefaultResolver struct {
	projectID string
}

func (a applicationDefaultResolver) Resolve(ctx context.Context) (*Credentials, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to find application default credentials: %w", err)
	}
	return &Credentials{ProjectID: pickProject(a.projectID, creds.ProjectID), TokenSource: creds.TokenSource}, nil
}

func pickProject(configured, fromCreds string) string {
	if configured != "" {
		return configured
	}
	return fromCreds
}
