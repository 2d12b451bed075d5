package recon

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes attaches the reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/recon", func(r chi.Router) {
		r.Post("/runs", h.CreateRun)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Post("/runs/{id}/execute", h.ExecuteRun)
		r.Get("/runs/{id}/summary", h.RunSummary)
		r.Delete("/runs/{id}", h.DeleteRun)
		r.Get("/runs/{id}/mismatches", h.ListMismatches)
		r.Post("/mismatches/{id}/resolve", h.ResolveMismatch)

		r.Group(func(r chi.Router) {
			rate := h.importRate
			if rate <= 0 {
				rate = 30
			}
			r.Use(httprate.LimitByIP(rate, time.Minute))
			r.Post("/import/sales", h.ImportSales)
			r.Post("/import/sales/file", h.ImportSalesFile)
		})
	})
}
