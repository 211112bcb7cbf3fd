package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/config"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/metrics"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/handlers"
	dsmw "github.com/baechuer/real-time-ressys/services/dataset-service/internal/transport/http/middleware"
)

func New(h *handlers.RunsHandler, z *handlers.HealthHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(dsmw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(dsmw.AccessLog)

	r.Get("/healthz", z.Healthz)
	r.Get("/readyz", z.Readyz)
	r.Handle("/metrics", metrics.MetricsHandler())

	r.Route("/dataset/v1", func(r chi.Router) {
		r.Get("/runs/{run_id}", h.Get)

		r.Group(func(r chi.Router) {
			// builds are expensive; only the trigger endpoint is throttled
			if cfg.RLEnabled {
				r.Use(httprate.LimitByIP(cfg.RLLimit, cfg.RLWindow))
			}
			r.Post("/runs", h.Create)
		})
	})

	return r
}
