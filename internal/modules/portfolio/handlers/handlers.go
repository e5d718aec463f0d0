// Package handlers provides HTTP handlers for portfolio management.
package handlers

import (
	"context"
	"net/http"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
	"github.com/aristath/sentinel-invest/internal/modules/portfolio"
	"github.com/aristath/sentinel-invest/internal/modules/snapshots"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// HoldingSource lists stored holdings
type HoldingSource interface {
	ListByPortfolio(ctx context.Context, portfolioID string) ([]domain.Holding, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Holding, error)
}

// ChartSource returns the daily snapshot series of a portfolio
type ChartSource interface {
	PortfolioSeries(ctx context.Context, portfolioID, rangeName string) ([]snapshots.PortfolioPoint, error)
}

// Handler handles portfolio HTTP requests
type Handler struct {
	service  *portfolio.Service
	holdings HoldingSource
	valuator *enrichment.Valuator
	charts   ChartSource
	log      zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(
	service *portfolio.Service,
	holdings HoldingSource,
	valuator *enrichment.Valuator,
	charts ChartSource,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:  service,
		holdings: holdings,
		valuator: valuator,
		charts:   charts,
		log:      log.With().Str("handler", "portfolio").Logger(),
	}
}

// HandleList returns the caller's portfolios, each enriched with current valuations
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := auth.UserID(ctx)

	list, err := h.service.ListByUser(ctx, uid)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	all, err := h.holdings.ListByUser(ctx, uid)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	byPortfolio := make(map[string][]domain.Holding, len(list))
	for _, hd := range all {
		byPortfolio[hd.PortfolioID] = append(byPortfolio[hd.PortfolioID], hd)
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, h.valuator.Portfolios(ctx, list, byPortfolio))
}

// HandleCreate creates a portfolio for the caller
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in portfolio.CreateInput
	if err := httputil.DecodeJSON(r, &in, domain.CodePortfolioValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	p, err := h.service.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, h.log, http.StatusCreated, p)
}

// HandleGet returns one portfolio with its holdings and computed totals
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.owned(w, r, domain.CodePortfolioForbidden)
	if !ok {
		return
	}

	holdings, err := h.holdings.ListByPortfolio(ctx, p.PortfolioID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, h.valuator.Portfolio(ctx, *p, holdings))
}

// HandleUpdate applies a partial update to a portfolio
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.owned(w, r, domain.CodePortfolioUpdateDenied)
	if !ok {
		return
	}

	var patch portfolio.Patch
	if err := httputil.DecodeJSON(r, &patch, domain.CodePortfolioValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	updated, err := h.service.Update(r.Context(), p.PortfolioID, patch)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, updated)
}

// HandleDelete deletes a portfolio. Deleting an absent portfolio succeeds.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "portfolioID")
	if err := h.service.Delete(r.Context(), auth.UserID(r.Context()), id); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChartData returns the portfolio's snapshot series for ?range=
func (h *Handler) HandleChartData(w http.ResponseWriter, r *http.Request) {
	p, ok := h.owned(w, r, domain.CodePortfolioForbidden)
	if !ok {
		return
	}

	points, err := h.charts.PortfolioSeries(r.Context(), p.PortfolioID, r.URL.Query().Get("range"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, points)
}

// owned loads the path portfolio and writes an error response unless the
// caller owns it
func (h *Handler) owned(w http.ResponseWriter, r *http.Request, forbiddenCode string) (*domain.Portfolio, bool) {
	p, err := h.service.GetByID(r.Context(), chi.URLParam(r, "portfolioID"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return nil, false
	}
	if p.UserID != auth.UserID(r.Context()) {
		httputil.WriteError(w, h.log, domain.NewForbidden(forbiddenCode, "Portfolio belongs to another user"))
		return nil, false
	}
	return p, true
}
