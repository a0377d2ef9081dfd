package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimization routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/scenarios", func(r chi.Router) {
		r.Post("/", h.HandleCreateScenario)
		r.Get("/", h.HandleListScenarios)
		r.Get("/{id}", h.HandleGetScenario)
		r.Post("/{id}/run", h.HandleRunScenario)
		r.Delete("/{id}/run", h.HandleCancelRun)
		r.Post("/{id}/retry", h.HandleRetryScenario)
	})

	r.Route("/plans", func(r chi.Router) {
		r.Get("/", h.HandleListPlans)
		r.Get("/{id}", h.HandleGetPlan)
		r.Get("/{id}/stock-items", h.HandleGetPlanStocks)
		r.Put("/{id}/status", h.HandleUpdatePlanStatus)
	})
}
