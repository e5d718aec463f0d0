package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers holding and lot routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/users/me/portfolios/{portfolioID}/holdings", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleAdd)

		r.Route("/{holdingID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Put("/", h.HandleUpdate)
			r.Delete("/", h.HandleDelete)
			r.Post("/move", h.HandleMove)

			r.Post("/lots", h.HandleAddLot)
			r.Put("/lots/{lotID}", h.HandleUpdateLot)
			r.Delete("/lots/{lotID}", h.HandleDeleteLot)
		})
	})
}
