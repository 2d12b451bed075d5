package app

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"github.com/vendora-ops/vendora-recon/internal/platform/httpx"
	"github.com/vendora-ops/vendora-recon/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// MiddlewareStack installs the Vendora middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	logMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if cfg.Logger != nil {
				cfg.Logger.Info("http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Duration("duration", time.Since(start)),
				)
			}
		})
	}

	return []func(http.Handler) http.Handler{
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		secureMiddleware.Handler,
		logMiddleware,
	}
}

// IdentityMiddleware resolves the org and user scope for a request.
//
// In production the platform's session layer sits in front of the engine
// and injects these headers after authenticating the tenant; auth itself
// is outside this service.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := uuid.Parse(r.Header.Get("X-Org-ID"))
		if err != nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing or malformed org scope")
			return
		}
		ident := shared.Identity{OrgID: orgID}
		if userID, err := uuid.Parse(r.Header.Get("X-User-ID")); err == nil {
			ident.UserID = userID
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), ident)))
	})
}
