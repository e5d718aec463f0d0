// Package handlers provides HTTP handlers for holdings and lots.
package handlers

import (
	"net/http"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/enrichment"
	"github.com/aristath/sentinel-invest/internal/modules/holdings"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// MoveRequest is the body of a move
type MoveRequest struct {
	DestinationPortfolioID string `json:"destinationPortfolioId" validate:"required"`
}

// Handler handles holding HTTP requests
type Handler struct {
	service  *holdings.Service
	valuator *enrichment.Valuator
	log      zerolog.Logger
}

// NewHandler creates a new holdings handler
func NewHandler(service *holdings.Service, valuator *enrichment.Valuator, log zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		valuator: valuator,
		log:      log.With().Str("handler", "holdings").Logger(),
	}
}

// HandleList returns the portfolio's holdings with computed values
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, p, err := h.service.List(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	enriched := h.valuator.Portfolio(ctx, *p, list)
	httputil.WriteJSON(w, h.log, http.StatusOK, enriched.Holdings)
}

// HandleAdd creates a holding
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var in holdings.CreateInput
	if err := httputil.DecodeJSON(r, &in, domain.CodeHoldingValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	ctx := r.Context()
	created, err := h.service.Add(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusCreated, created)
}

// HandleGet returns one holding with computed values
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hd, p, err := h.service.Get(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, h.valuator.Holding(ctx, *hd, p.TaxSettings.CapitalGainTaxRate))
}

// HandleUpdate applies a partial update to a holding
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch holdings.Patch
	if err := httputil.DecodeJSON(r, &patch, domain.CodeHoldingValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	ctx := r.Context()
	updated, err := h.service.Update(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"), patch)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, updated)
}

// HandleDelete removes a holding
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.service.Delete(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID")); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMove moves a holding to another portfolio
func (h *Handler) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := httputil.DecodeJSON(r, &req, domain.CodeHoldingValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	ctx := r.Context()
	moved, err := h.service.Move(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"), req.DestinationPortfolioID)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, moved)
}

// HandleAddLot appends a lot
func (h *Handler) HandleAddLot(w http.ResponseWriter, r *http.Request) {
	var in holdings.LotInput
	if err := httputil.DecodeJSON(r, &in, domain.CodeLotInvalid); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	ctx := r.Context()
	updated, err := h.service.AddLot(ctx, auth.UserID(ctx), chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusCreated, updated)
}

// HandleUpdateLot replaces a lot's purchase details
func (h *Handler) HandleUpdateLot(w http.ResponseWriter, r *http.Request) {
	var in holdings.LotInput
	if err := httputil.DecodeJSON(r, &in, domain.CodeLotInvalid); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	ctx := r.Context()
	updated, err := h.service.UpdateLot(ctx, auth.UserID(ctx),
		chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"), chi.URLParam(r, "lotID"), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, updated)
}

// HandleDeleteLot removes a lot
func (h *Handler) HandleDeleteLot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	updated, err := h.service.DeleteLot(ctx, auth.UserID(ctx),
		chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"), chi.URLParam(r, "lotID"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, updated)
}
