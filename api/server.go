/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/batch/*          Bulk operations
  /api/teachers/*       Teacher, salary config and attendance maintenance
  /api/disbursements    Disbursement listing
  /api/exports/*        Spreadsheet/PDF downloads
  /api/audit            Bulk audit log
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus metrics
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. The actor of a bulk operation is taken
  from the request, so this must sit behind an authenticating proxy that
  sets X-Actor-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/payrolld/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. gatherer may be
// nil, in which case /metrics is not served.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Bulk operations
		r.Route("/batch", func(r chi.Router) {
			r.Post("/", h.ExecuteBatch)
			r.Post("/{operation}", h.ExecuteBatch)
		})

		// Teacher routes
		r.Route("/teachers", func(r chi.Router) {
			r.Get("/", h.ListTeachers)
			r.Post("/", h.CreateTeacher)
			r.Get("/{id}", h.GetTeacher)
			r.Put("/{id}/salary", h.SetSalary)
			r.Get("/{id}/salary/history", h.GetSalaryHistory)
			r.Post("/{id}/attendance", h.RecordAttendance)
			r.Get("/{id}/attendance", h.GetAttendanceSummary)
			r.Get("/{id}/payslip", h.GetPayslip)
		})

		r.Get("/disbursements", h.ListDisbursements)

		// Export routes
		r.Route("/exports", func(r chi.Router) {
			r.Get("/disbursements", h.ExportDisbursements)
			r.Get("/teachers", h.ExportTeachers)
		})

		r.Get("/audit", h.ListAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
