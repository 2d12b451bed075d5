package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendora-ops/vendora-recon/internal/platform/httpx"
	"github.com/vendora-ops/vendora-recon/internal/recon"
	"github.com/vendora-ops/vendora-recon/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	ReconHandler *recon.Handler
	JobsHandler  *jobs.Handler
	Pool         *pgxpool.Pool
}

// NewRouter constructs the chi.Router with Vendora defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				httpx.Problem(w, http.StatusServiceUnavailable, "Unhealthy", "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware)
			params.ReconHandler.MountRoutes(r)
		})
	})

	return r
}
