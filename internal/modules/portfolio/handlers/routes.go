package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all portfolio routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/me/portfolios", h.HandleList)
	r.Post("/users/me/portfolios", h.HandleCreate)

	r.Get("/users/me/portfolios/{portfolioID}", h.HandleGet)
	r.Put("/users/me/portfolios/{portfolioID}", h.HandleUpdate)
	r.Delete("/users/me/portfolios/{portfolioID}", h.HandleDelete)
	r.Get("/users/me/portfolios/{portfolioID}/chart-data", h.HandleChartData)
}
