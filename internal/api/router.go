package api

import (
	"net/http"

	"github.com/Priya8975/firehose-webhooks/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterDeps is everything the HTTP surface needs. Hub and Stream may be nil.
type RouterDeps struct {
	Secret    string
	Control   *ControlHandler
	Dashboard *DashboardHandler
	Limiter   *IPLimiter
	Registry  SnapshotSource
	Stream    StreamStatus
	WebSocket http.HandlerFunc
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	r.Get("/health", HealthHandler(deps.Registry, deps.Stream))
	r.Handle("/metrics", metrics.Handler())
	if deps.WebSocket != nil {
		r.With(requireStreamSecret(deps.Secret)).Get("/ws", deps.WebSocket)
	}

	if deps.Dashboard != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(requireSecret(deps.Secret))
			r.Get("/stats", deps.Dashboard.Stats)
			r.Get("/tenants", deps.Dashboard.Tenants)
			r.Get("/tenants/{id}", deps.Dashboard.Tenant)
		})
	}

	r.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(deps.Limiter.Middleware)
		}
		r.Post("/{id}", deps.Control.Refresh)
		r.Put("/{id}", deps.Control.Refresh)
	})

	return r
}
