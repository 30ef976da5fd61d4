// Package httpapi wires the proxy and admin surfaces onto a chi router.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clawroute/clawroute/internal/classify"
	"github.com/clawroute/clawroute/internal/events"
	"github.com/clawroute/clawroute/internal/executor"
	"github.com/clawroute/clawroute/internal/metrics"
	"github.com/clawroute/clawroute/internal/oai"
	"github.com/clawroute/clawroute/internal/route"
	"github.com/clawroute/clawroute/internal/stats"
	"github.com/clawroute/clawroute/internal/store"
)

type Dependencies struct {
	Router   *route.Router
	Executor *executor.Executor
	Classify classify.Options
	Store    store.Store
	Stats    *stats.Collector
	Metrics  *metrics.Registry
	Events   *events.Bus
	Logger   *slog.Logger

	Version   string
	AuthToken string

	// ConfigView returns the running configuration with secrets already
	// replaced, for GET /api/config.
	ConfigView func() map[string]any
}

func MountRoutes(r chi.Router, d Dependencies) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		oai.WriteError(w, http.StatusNotFound, "not found", "invalid_request_error", "not_found")
	})

	r.Get("/health", HealthHandler(d))
	r.Get("/stats", StatsHandler(d))
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.AuthToken))
		r.Post("/chat/completions", ChatHandler(d))
		r.Post("/messages", MessagesHandler())
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(d.AuthToken))
		r.Get("/config", ConfigHandler(d))
		r.Get("/models", ModelsHandler())
		r.Post("/enable", SetEnabledHandler(d, true))
		r.Post("/disable", SetEnabledHandler(d, false))
		r.Post("/dry-run/enable", SetDryRunHandler(d, true))
		r.Post("/dry-run/disable", SetDryRunHandler(d, false))
		if d.Events != nil {
			r.Get("/events", EventsHandler(d))
		}
		r.Post("/override/global", GlobalOverrideHandler(d))
		r.Post("/override/session", SessionOverrideHandler(d))
		r.Delete("/override/session", SessionOverrideDeleteHandler(d))
	})
}
