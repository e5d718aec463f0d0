// Package handlers provides HTTP handlers for rule sets.
package handlers

import (
	"net/http"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/rulesets"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles rule set HTTP requests
type Handler struct {
	service *rulesets.Service
	log     zerolog.Logger
}

// NewHandler creates a new rule set handler
func NewHandler(service *rulesets.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "rulesets").Logger(),
	}
}

// RegisterRoutes registers rule set routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users/me/rulesets", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{ruleSetID}", h.HandleGet)
		r.Put("/{ruleSetID}", h.HandleUpdate)
		r.Delete("/{ruleSetID}", h.HandleDelete)
	})
}

// HandleList returns the caller's rule sets
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, list)
}

// HandleCreate creates a rule set
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in rulesets.CreateInput
	if err := httputil.DecodeJSON(r, &in, domain.CodeRuleSetValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	rs, err := h.service.Create(r.Context(), auth.UserID(r.Context()), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusCreated, rs)
}

// HandleGet returns one rule set
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rs, err := h.service.Get(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ruleSetID"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, rs)
}

// HandleUpdate replaces a rule set's rules
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var in rulesets.UpdateInput
	if err := httputil.DecodeJSON(r, &in, domain.CodeRuleSetValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	rs, err := h.service.Update(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ruleSetID"), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, rs)
}

// HandleDelete removes a rule set
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "ruleSetID")); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
