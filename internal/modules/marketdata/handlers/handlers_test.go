package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/sentinel-invest/internal/clients/alphavantage"
	"github.com/aristath/sentinel-invest/internal/clients/openfigi"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/marketdata"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSyncer struct {
	result *marketdata.SyncResult
	err    error
	calls  int
}

func (s *stubSyncer) Sync(ctx context.Context) (*marketdata.SyncResult, error) {
	s.calls++
	return s.result, s.err
}

type stubSearcher struct {
	matches []alphavantage.SymbolMatch
	err     error
	query   string
}

func (s *stubSearcher) SearchSymbols(ctx context.Context, keywords string) ([]alphavantage.SymbolMatch, error) {
	s.query = keywords
	return s.matches, s.err
}

type stubResolver struct {
	listings []openfigi.Listing
	err      error
	gotType  openfigi.IDType
	gotValue string
}

func (s *stubResolver) Lookup(ctx context.Context, idType openfigi.IDType, value string) ([]openfigi.Listing, error) {
	s.gotType, s.gotValue = idType, value
	return s.listings, s.err
}

func newRouter(syncer Syncer, searcher marketdata.SymbolSearcher) http.Handler {
	return newRouterWithResolver(syncer, searcher, nil)
}

func newRouterWithResolver(syncer Syncer, searcher marketdata.SymbolSearcher, resolver IdentifierResolver) http.Handler {
	r := chi.NewRouter()
	NewHandler(syncer, searcher, resolver, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandleRunSync(t *testing.T) {
	syncer := &stubSyncer{result: &marketdata.SyncResult{
		Tickers:    3,
		Updated:    2,
		Backfilled: []string{},
		Failed:     []marketdata.TickerFailure{{Ticker: "BAD", Error: "boom"}},
		StartedAt:  time.Now().UTC(),
	}}
	rec := serve(newRouter(syncer, &stubSearcher{}), http.MethodPost, "/tasks/run-daily-market-sync")

	require.Equal(t, http.StatusOK, rec.Code)
	var body SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Market data synchronization job completed successfully.", body.Message)
	require.NotNil(t, body.Result)
	assert.Equal(t, 2, body.Result.Updated)
	assert.Len(t, body.Result.Failed, 1)
	assert.Equal(t, 1, syncer.calls)
}

func TestHandleRunSync_Failure(t *testing.T) {
	syncer := &stubSyncer{err: errors.New("holdings unavailable")}
	rec := serve(newRouter(syncer, &stubSearcher{}), http.MethodPost, "/tasks/run-daily-market-sync")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "holdings unavailable")
}

func TestHandleSearch(t *testing.T) {
	searcher := &stubSearcher{matches: []alphavantage.SymbolMatch{
		{Symbol: "AAPL", Name: "Apple Inc", Region: "United States", Currency: "USD", MatchScore: 1},
	}}
	rec := serve(newRouter(&stubSyncer{}, searcher), http.MethodGet, "/instruments/search?q=%20apple%20")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "apple", searcher.query)

	var matches []alphavantage.SymbolMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "AAPL", matches[0].Symbol)
}

func TestHandleSearch_InvalidQuery(t *testing.T) {
	for name, q := range map[string]string{
		"missing":  "",
		"blank":    "?q=%20%20",
		"too long": "?q=" + strings.Repeat("a", 51),
	} {
		t.Run(name, func(t *testing.T) {
			searcher := &stubSearcher{}
			rec := serve(newRouter(&stubSyncer{}, searcher), http.MethodGet, "/instruments/search"+q)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			var body httputil.ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "MD_E_1101", body.Code)
			assert.Empty(t, searcher.query)
		})
	}
}

func TestHandleSearch_ProviderDown(t *testing.T) {
	searcher := &stubSearcher{err: alphavantage.ErrRateLimitExceeded{}}
	rec := serve(newRouter(&stubSyncer{}, searcher), http.MethodGet, "/instruments/search?q=msft")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body httputil.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "MD_E_5031", body.Code)
}

func TestHandleLookup(t *testing.T) {
	resolver := &stubResolver{listings: []openfigi.Listing{{Ticker: "AAPL", ExchCode: "US"}}}
	h := newRouterWithResolver(&stubSyncer{}, &stubSearcher{}, resolver)

	rec := serve(h, http.MethodGet, "/instruments/lookup?isin=us0378331005")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, openfigi.IDTypeISIN, resolver.gotType)
	assert.Equal(t, "US0378331005", resolver.gotValue)

	var listings []openfigi.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listings))
	assert.Equal(t, "AAPL", listings[0].Ticker)

	rec = serve(h, http.MethodGet, "/instruments/lookup?wkn=865985")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, openfigi.IDTypeWKN, resolver.gotType)
}

func TestHandleLookup_Validation(t *testing.T) {
	h := newRouterWithResolver(&stubSyncer{}, &stubSearcher{}, &stubResolver{})

	for _, target := range []string{
		"/instruments/lookup",
		"/instruments/lookup?isin=US0378331005&wkn=865985",
		"/instruments/lookup?isin=APPLE",
		"/instruments/lookup?wkn=86598",
	} {
		rec := serve(h, http.MethodGet, target)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "MD_E_1101", target)
	}
}

func TestHandleLookup_Errors(t *testing.T) {
	unknown := &stubResolver{err: fmt.Errorf("%w: XX", openfigi.ErrUnknownIdentifier)}
	rec := serve(newRouterWithResolver(&stubSyncer{}, &stubSearcher{}, unknown),
		http.MethodGet, "/instruments/lookup?isin=US0000000000")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "MD_E_2102")

	down := &stubResolver{err: errors.New("status 500")}
	rec = serve(newRouterWithResolver(&stubSyncer{}, &stubSearcher{}, down),
		http.MethodGet, "/instruments/lookup?isin=US0378331005")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "status 500")
}

func TestHandleLookup_NotMountedWithoutResolver(t *testing.T) {
	rec := serve(newRouter(&stubSyncer{}, &stubSearcher{}), http.MethodGet, "/instruments/lookup?isin=US0378331005")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
