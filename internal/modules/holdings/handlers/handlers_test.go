package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
	"github.com/aristath/sentinel-invest/internal/modules/holdings"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	testingpkg "github.com/aristath/sentinel-invest/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const addBody = `{"ticker":"msft","securityType":"STOCK","assetClass":"EQUITY","currency":"USD",
"lots":[{"purchaseDate":"2024-05-01","quantity":4,"purchasePrice":300}]}`

type fixture struct {
	router http.Handler
	quotes *testingpkg.MockQuoteSource
	p1, p2 string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testingpkg.NewTestStore(t)
	portfolios := portfolio.NewService(store, 25, zerolog.Nop())
	ctx := context.Background()

	p1, err := portfolios.Create(ctx, "u1", portfolio.CreateInput{Name: "Main", DefaultCurrency: domain.CurrencyEUR})
	require.NoError(t, err)
	p2, err := portfolios.Create(ctx, "u1", portfolio.CreateInput{Name: "Side", DefaultCurrency: domain.CurrencyEUR})
	require.NoError(t, err)

	quotes := testingpkg.NewMockQuoteSource()
	valuator := enrichment.NewValuator(enrichment.NewEngine(0),
		enrichment.NewPriceService(quotes, time.Minute, zerolog.Nop()), zerolog.Nop())

	r := chi.NewRouter()
	r.Use(auth.NewAuthenticator(testingpkg.StaticVerifier{}, zerolog.Nop()).Handler)
	NewHandler(holdings.NewService(store, nil, zerolog.Nop()), valuator, zerolog.Nop()).RegisterRoutes(r)

	return &fixture{router: r, quotes: quotes, p1: p1.PortfolioID, p2: p2.PortfolioID}
}

func (f *fixture) call(method, path, uid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer uid:"+uid)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) add(t *testing.T) domain.Holding {
	t.Helper()
	rec := f.call(http.MethodPost, "/users/me/portfolios/"+f.p1+"/holdings", "u1", addBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var h domain.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	return h
}

func TestAddAndList(t *testing.T) {
	f := newFixture(t)
	h := f.add(t)
	assert.Equal(t, "MSFT", h.Ticker)
	require.Len(t, h.Lots, 1)

	rec := f.call(http.MethodPost, "/users/me/portfolios/"+f.p1+"/holdings", "u1", addBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeDuplicateHolding)

	rec = f.call(http.MethodGet, "/users/me/portfolios/"+f.p1+"/holdings", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []enrichment.EnrichedHolding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, enrichment.PriceUnavailable, list[0].PriceStatus)
	assert.Nil(t, list[0].CurrentPrice)
	assert.InDelta(t, 1200, list[0].TotalCost, 1e-9)
	assert.Zero(t, list[0].CurrentValue)
}

func TestGet_Enriched(t *testing.T) {
	f := newFixture(t)
	h := f.add(t)
	f.quotes.Set("MSFT", enrichment.Quote{Price: 400, AsOf: time.Now()})

	rec := f.call(http.MethodGet, "/users/me/portfolios/"+f.p1+"/holdings/"+h.HoldingID, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got enrichment.EnrichedHolding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, enrichment.PriceAvailable, got.PriceStatus)
	assert.InDelta(t, 1600, got.CurrentValue, 1e-9)
	assert.InDelta(t, 400, got.PreTaxGainLoss, 1e-9)
	assert.InDelta(t, 300, got.AfterTaxGainLoss, 1e-9)
	require.Len(t, got.Lots, 1)
	assert.InDelta(t, 100, got.Lots[0].ComputedInfo.CapitalGainTax, 1e-9)
}

func TestOtherUserIsForbidden(t *testing.T) {
	f := newFixture(t)
	h := f.add(t)

	rec := f.call(http.MethodGet, "/users/me/portfolios/"+f.p1+"/holdings/"+h.HoldingID, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.call(http.MethodPost, "/users/me/portfolios/"+f.p1+"/holdings", "u2", addBody)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLots(t *testing.T) {
	f := newFixture(t)
	h := f.add(t)
	base := "/users/me/portfolios/" + f.p1 + "/holdings/" + h.HoldingID + "/lots"

	rec := f.call(http.MethodPost, base, "u1", `{"purchaseDate":"2024-06-01","quantity":1,"purchasePrice":310}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var updated domain.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Len(t, updated.Lots, 2)

	rec = f.call(http.MethodPost, base, "u1", `{"purchaseDate":"2024-06-01","quantity":0,"purchasePrice":310}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeLotInvalid)

	lotID := updated.Lots[1].LotID
	rec = f.call(http.MethodPut, base+"/"+lotID, "u1", `{"purchaseDate":"2024-06-02","quantity":2,"purchasePrice":305}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, lotID, updated.Lots[1].LotID)
	assert.Equal(t, 2.0, updated.Lots[1].Quantity)

	rec = f.call(http.MethodDelete, base+"/"+lotID, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Len(t, updated.Lots, 1)

	rec = f.call(http.MethodDelete, base+"/"+lotID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeLotNotFound)
}

func TestMoveAndDelete(t *testing.T) {
	f := newFixture(t)
	h := f.add(t)

	rec := f.call(http.MethodPost, "/users/me/portfolios/"+f.p1+"/holdings/"+h.HoldingID+"/move", "u1",
		`{"destinationPortfolioId":"`+f.p2+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var moved domain.Holding
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.Equal(t, f.p2, moved.PortfolioID)

	rec = f.call(http.MethodGet, "/users/me/portfolios/"+f.p1+"/holdings/"+h.HoldingID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.call(http.MethodDelete, "/users/me/portfolios/"+f.p2+"/holdings/"+h.HoldingID, "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.call(http.MethodGet, "/users/me/portfolios/"+f.p2+"/holdings", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
