package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/ticketing-events/internal/idempotency"
	"github.com/robertarktes/ticketing-events/internal/observability"
	"github.com/robertarktes/ticketing-events/internal/rateLimit"
)

// SetupRouter mounts the routes of the services set on h. rl and idemp may be
// nil to run without rate limiting or idempotent replay.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(CurrentUserMiddleware)
	if rl != nil {
		r.Use(RateLimitMiddleware(rl, 60, 600))
	}

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		if idemp != nil {
			r.Use(IdempotencyMiddleware(idemp))
		}
		if h.Tickets != nil {
			r.Get("/tickets", h.ListTickets)
			r.Get("/tickets/{id}", h.GetTicket)
			r.With(RequireAuth).Post("/tickets", h.CreateTicket)
			r.With(RequireAuth).Put("/tickets/{id}", h.UpdateTicket)
		}
		if h.Orders != nil {
			r.Group(func(r chi.Router) {
				r.Use(RequireAuth)
				r.Get("/orders", h.ListOrders)
				r.Get("/orders/{id}", h.GetOrder)
				r.Post("/orders", h.CreateOrder)
				r.Delete("/orders/{id}", h.CancelOrder)
			})
		}
		if h.Payments != nil {
			r.With(RequireAuth).Post("/payments", h.CreatePayment)
			r.With(RequireAuth).Get("/payments/{id}", h.GetPayment)
		}
	})

	return r
}
