package testing

import (
	"context"
	"strings"
	"sync"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
)

// MockQuoteSource is an in-memory enrichment.PriceSource
type MockQuoteSource struct {
	mu     sync.Mutex
	quotes map[string]enrichment.Quote
	err    error
	calls  int
}

// NewMockQuoteSource creates an empty quote source
func NewMockQuoteSource() *MockQuoteSource {
	return &MockQuoteSource{quotes: make(map[string]enrichment.Quote)}
}

// Set stores a quote for ticker
func (m *MockQuoteSource) Set(ticker string, q enrichment.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[strings.ToUpper(ticker)] = q
}

// SetError makes every lookup fail with err
func (m *MockQuoteSource) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many lookups were made
func (m *MockQuoteSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LatestQuotes implements enrichment.PriceSource
func (m *MockQuoteSource) LatestQuotes(ctx context.Context, tickers []string) (map[string]enrichment.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]enrichment.Quote, len(tickers))
	for _, t := range tickers {
		if q, ok := m.quotes[t]; ok {
			out[t] = q
		}
	}
	return out, nil
}

// StaticVerifier accepts tokens of the form "uid:<subject>"
type StaticVerifier struct{}

// Verify implements auth.TokenVerifier
func (StaticVerifier) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	uid, ok := strings.CutPrefix(token, "uid:")
	if !ok || uid == "" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Identity{Subject: uid, Email: uid + "@example.com", DisplayName: uid}, nil
}

// RecordingRevoker records revoked users
type RecordingRevoker struct {
	mu      sync.Mutex
	Revoked []string
	Err     error
}

// RevokeRefreshTokens implements auth.Revoker
func (r *RecordingRevoker) RevokeRefreshTokens(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Revoked = append(r.Revoked, uid)
	return nil
}
