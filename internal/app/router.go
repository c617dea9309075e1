package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/inkboard/inkboard/internal/audit"
	"github.com/inkboard/inkboard/internal/observability"
	"github.com/inkboard/inkboard/internal/platform/httpx"
	"github.com/inkboard/inkboard/internal/rbac"
	"github.com/inkboard/inkboard/internal/shared"
	"github.com/inkboard/inkboard/jobs"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Sessions       *shared.SessionStore
	Metrics        *observability.Metrics
	Principals     *rbac.PrincipalRegistrar
	RBACHandler    *rbac.Handler
	RBACMiddleware rbac.Middleware
	AuditHandler   *audit.Handler
	JobHandler     *jobs.Handler
	Readiness      map[string]Pinger
}

// NewRouter constructs the chi.Router with Inkboard defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:     params.Logger,
		Config:     params.Config,
		Sessions:   params.Sessions,
		Metrics:    params.Metrics,
		Principals: params.Principals,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(params.Logger, params.Readiness))

	if params.RBACHandler != nil {
		r.Route("/api/rbac", params.RBACHandler.MountRoutes)
	}
	if params.AuditHandler != nil && params.RBACMiddleware.Authorizer != nil {
		r.Route("/api/audit", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequirePermission(rbac.PermRolesManage))
			params.AuditHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil && params.RBACMiddleware.Authorizer != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireMinLevel(80))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func readinessHandler(logger *slog.Logger, checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := make(map[string]string, len(checks))
		code := http.StatusOK
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				status[name] = "down"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "up"
		}
		httpx.JSON(w, code, status)
	}
}
