// Package handlers provides HTTP handlers for the current user's profile,
// settings and session.
package handlers

import (
	"net/http"

	"github.com/aristath/sentinel-invest/internal/auth"
	"github.com/aristath/sentinel-invest/internal/domain"
	"github.com/aristath/sentinel-invest/internal/httputil"
	"github.com/aristath/sentinel-invest/internal/modules/users"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SettingsResponse is the settings view of a user
type SettingsResponse struct {
	DefaultPortfolioID      *string                      `json:"defaultPortfolioId"`
	NotificationPreferences []domain.NotificationChannel `json:"notificationPreferences"`
}

// MessageResponse carries an informational code
type MessageResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler handles user HTTP requests
type Handler struct {
	service *users.Service
	revoker auth.Revoker
	log     zerolog.Logger
}

// NewHandler creates a new user handler
func NewHandler(service *users.Service, revoker auth.Revoker, log zerolog.Logger) *Handler {
	if revoker == nil {
		revoker = auth.NoopRevoker{}
	}
	return &Handler{
		service: service,
		revoker: revoker,
		log:     log.With().Str("handler", "users").Logger(),
	}
}

// RegisterRoutes registers user and session routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/me", h.HandleGetMe)
	r.Get("/users/me/settings", h.HandleGetSettings)
	r.Put("/users/me/settings", h.HandleUpdateSettings)
	r.Post("/auth/logout", h.HandleLogout)
}

// current provisions the caller on first access
func (h *Handler) current(r *http.Request) (*domain.User, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, domain.NewUnauthenticated("missing identity")
	}
	return h.service.Provision(r.Context(), id)
}

// HandleGetMe returns the caller's profile
func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.current(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, u)
}

// HandleGetSettings returns the caller's settings
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	u, err := h.current(r)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, settingsOf(u))
}

// HandleUpdateSettings changes the caller's settings
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var in users.SettingsInput
	if err := httputil.DecodeJSON(r, &in, domain.CodeSettingsValidation); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	if _, err := h.current(r); err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}

	ctx := r.Context()
	u, err := h.service.UpdateSettings(ctx, auth.UserID(ctx), in)
	if err != nil {
		httputil.WriteError(w, h.log, err)
		return
	}
	httputil.WriteJSON(w, h.log, http.StatusOK, settingsOf(u))
}

// HandleLogout revokes the caller's refresh tokens
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid := auth.UserID(ctx)
	if err := h.revoker.RevokeRefreshTokens(ctx, uid); err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("Failed to revoke refresh tokens")
		httputil.WriteErrorCode(w, h.log, http.StatusInternalServerError, domain.CodeLogoutFailed, "Logout failed.")
		return
	}

	h.log.Info().Str("user_id", uid).Msg("User logged out")
	httputil.WriteJSON(w, h.log, http.StatusOK, MessageResponse{
		Code:    domain.CodeLogoutSucceeded,
		Message: "User logged out successfully.",
	})
}

func settingsOf(u *domain.User) SettingsResponse {
	prefs := u.NotificationPreferences
	if prefs == nil {
		prefs = []domain.NotificationChannel{}
	}
	return SettingsResponse{
		DefaultPortfolioID:      u.DefaultPortfolioID,
		NotificationPreferences: prefs,
	}
}
