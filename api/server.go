/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Count and latency per route pattern
  5. CORS:       Cross-origin requests for the HR frontend

ROUTE GROUPS:
  /api/rules, /api/groups/*    Rotation catalog and calendars
  /api/entitlement             Band lookup
  /api/programs/*              Program lifecycle, planning, blocks
  /api/blocks/*                Reservations
  /api/audit                   Audit trail
  /healthz                     Liveness + storage ping
  /metrics                     Prometheus exposition

SECURITY NOTE:
  No authentication middleware. The actor recorded in the audit log comes
  from the X-Actor-ID header set by the gateway in front of this service.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
// An empty origins list allows any origin.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/rules", h.ListRules)
		r.Get("/groups/{id}/calendar", h.GetGroupCalendar)
		r.Get("/entitlement", h.GetEntitlement)

		// Program routes
		r.Route("/programs", func(r chi.Router) {
			r.Get("/", h.ListPrograms)
			r.Post("/", h.CreateProgram)
			r.Get("/current", h.GetCurrentProgram)
			r.Delete("/current", h.DeleteCurrentProgram)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/activate", h.transition(h.Programs.Activate))
				r.Post("/reschedule", h.transition(h.Programs.Reschedule))
				r.Post("/close", h.transition(h.Programs.Close))

				r.Post("/auto-assign", h.AutoAssign)
				r.Post("/auto-assign/revert", h.RevertAutoAssign)
				r.Get("/outcomes", h.ListOutcomes)

				r.Post("/blocks", h.OpenBlocks)
				r.Get("/blocks", h.ListBlocks)
				r.Get("/blocks/stats", h.BlockStats)
				r.Post("/manual-assignments", h.ManualAssign)
				r.Post("/escalate", h.Escalate)
			})
		})

		// Reservation routes
		r.Post("/blocks/{id}/reservations", h.Reserve)
		r.Post("/blocks/{id}/moves", h.MoveEmployee)

		r.Get("/audit", h.QueryAudit)
	})

	return r
}
