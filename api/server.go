/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/reports/*    Profit and forecast reports
  /api/snapshots    Persisted forecast rows
  /api/budget/*     Spend recommendations
  /api/recompute/*  Manual/debounced recompute and run audit
  /api/orders       Order ledger mirror ingestion
  /api/costs/*      Cost ledger ingestion
  /api/products/*   Product unit cost ingestion
  /metrics          Prometheus scrape endpoint

SECURITY NOTE:
  No authentication middleware. The service is meant to sit behind an
  internal gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/margin-engine/metrics"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/profit", h.GetProfitReport)
			r.Get("/forecast", h.GetForecastReport)
		})
		r.Get("/snapshots", h.ListSnapshots)

		// Budget routes
		r.Get("/budget/{adGroup}", h.GetBudget)

		// Recompute routes
		r.Route("/recompute", func(r chi.Router) {
			r.Post("/", h.TriggerRecompute)
			r.Post("/schedule", h.ScheduleRecompute)
			r.Get("/runs", h.ListRuns)
		})

		// Ledger mirror ingestion
		r.Post("/orders", h.IngestOrder)
		r.Route("/costs", func(r chi.Router) {
			r.Post("/ad", h.IngestAdSpend)
			r.Post("/day", h.IngestDayCosts)
		})
		r.Post("/products/costs", h.IngestProductCost)
		r.Get("/adgroups", h.ListAdGroups)
	})

	// Prometheus scrape endpoint
	r.Handle("/metrics", metrics.Handler())

	return r
}
