// Package handlers provides HTTP handlers for snapshot capture and
// holding-level chart data.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/snapshots"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Snapshotter captures and reads snapshot series
type Snapshotter interface {
	Capture(ctx context.Context, date time.Time) (*snapshots.CaptureResult, error)
	HoldingSeries(ctx context.Context, holdingID, rangeName string) ([]snapshots.HoldingPoint, error)
}

// HoldingLookup resolves a holding the caller owns
type HoldingLookup interface {
	Get(ctx context.Context, userID, portfolioID, holdingID string) (*domain.Holding, *domain.Portfolio, error)
}

// CaptureResponse is returned by the manual capture trigger
type CaptureResponse struct {
	Message string                   `json:"message"`
	Result  *snapshots.CaptureResult `json:"result"`
}

// Handler handles snapshot HTTP requests
type Handler struct {
	snapshots Snapshotter
	holdings  HoldingLookup
	now       func() time.Time
	log       zerolog.Logger
}

// NewHandler creates a snapshot handler
func NewHandler(snapshots Snapshotter, holdings HoldingLookup, log zerolog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		holdings:  holdings,
		now:       time.Now,
		log:       log.With().Str("handler", "snapshots").Logger(),
	}
}

// RegisterRoutes registers snapshot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/tasks/capture-snapshots", h.HandleCapture)
	r.Get("/users/me/portfolios/{portfolioID}/holdings/{holdingID}/chart-data", h.HandleHoldingChartData)
}

// HandleCapture captures snapshots for ?date= (YYYY-MM-DD), today by default
func (h *Handler) HandleCapture(w http.ResponseWriter, r *http.Request) {
	date := h.now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			httputil.WriteError(w, h.log, domain.NewValidation(domain.CodePortfolioValidation,
				"date must be formatted as YYYY-MM-DD"))
			return
		}
		date = parsed
	}

	result, err := h.snapshots.Capture(r.Context(), date)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, CaptureResponse{
		Message: "Snapshots captured.",
		Result:  result,
	})
}

// HandleHoldingChartData returns a holding's snapshot series for ?range=
func (h *Handler) HandleHoldingChartData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	holding, _, err := h.holdings.Get(ctx, auth.UserID(ctx),
		chi.URLParam(r, "portfolioID"), chi.URLParam(r, "holdingID"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	points, err := h.snapshots.HoldingSeries(ctx, holding.HoldingID, r.URL.Query().Get("range"))
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	if points == nil {
		points = []snapshots.HoldingPoint{}
	}

	httputil.WriteJSON(w, h.log, http.StatusOK, points)
}
