package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	"github.com/aristath/sentinel-invest/internal/modules/rulesets"
	testingpkg "github.com/aristath/sentinel-invest/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (http.Handler, string) {
	t.Helper()
	store := testingpkg.NewTestStore(t)
	p, err := portfolio.NewService(store, 26.4, zerolog.Nop()).Create(context.Background(), "u1",
		portfolio.CreateInput{Name: "Main", DefaultCurrency: domain.CurrencyEUR})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(auth.NewAuthenticator(testingpkg.StaticVerifier{}, zerolog.Nop()).Handler)
	NewHandler(rulesets.NewService(store, zerolog.Nop()), zerolog.Nop()).RegisterRoutes(r)
	return r, p.PortfolioID
}

func call(h http.Handler, method, path, uid, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer uid:"+uid)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createBody(parentID string) string {
	return `{"parentId":"` + parentID + `","parentType":"PORTFOLIO","rules":[{"ruleType":"SELL",
"conditions":[{"type":"STOP_LOSS","parameters":{"percentage":10}}]}]}`
}

func TestRuleSetLifecycle(t *testing.T) {
	r, pid := setup(t)

	rec := call(r, http.MethodPost, "/users/me/rulesets", "u1", createBody(pid))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rs domain.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	require.Len(t, rs.Rules, 1)
	assert.NotEmpty(t, rs.Rules[0].RuleID)
	assert.Equal(t, domain.OperatorAnd, rs.Rules[0].LogicalOperator)

	rec = call(r, http.MethodPost, "/users/me/rulesets", "u1", createBody(pid))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeRuleSetParentConflict)

	rec = call(r, http.MethodGet, "/users/me/rulesets/"+rs.RuleSetID, "u2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(r, http.MethodPut, "/users/me/rulesets/"+rs.RuleSetID, "u1",
		`{"rules":[{"ruleType":"BUY","logicalOperator":"OR","conditions":[{"type":"RSI_LEVEL","parameters":{"level":30}}]}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rs))
	assert.Equal(t, domain.RuleBuy, rs.Rules[0].RuleType)

	rec = call(r, http.MethodGet, "/users/me/rulesets", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.RuleSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = call(r, http.MethodDelete, "/users/me/rulesets/"+rs.RuleSetID, "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = call(r, http.MethodGet, "/users/me/rulesets/"+rs.RuleSetID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreate_UnknownCondition(t *testing.T) {
	r, pid := setup(t)
	body := strings.Replace(createBody(pid), "STOP_LOSS", "MOON_PHASE", 1)

	rec := call(r, http.MethodPost, "/users/me/rulesets", "u1", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeRuleSetValidation)
}
