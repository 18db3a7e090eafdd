package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP surface.
type RouterConfig struct {
	// BookingRateLimit caps booking and cancellation requests per IP per
	// minute. Zero disables the limit.
	BookingRateLimit int
}

// NewRouter builds the chi router with the global middleware stack.
func NewRouter(h *BookingHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger)                  // structured access log
	r.Use(CORS)

	limited := RateLimit(cfg.BookingRateLimit, time.Minute)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Get("/availability", h.GetAvailability)
			r.Get("/audit", h.ListAuditLog)
			r.With(limited).Post("/bookings", h.RequestBooking)
			r.Post("/cancel", h.CancelSession)
			r.Post("/complete", h.CompleteSession)
			r.Post("/promote", h.PromoteNext)
			r.Post("/reconcile", h.Reconcile)
		})
	})

	r.Route("/bookings/{id}", func(r chi.Router) {
		r.Get("/", h.GetBooking)
		r.With(limited).Post("/cancel", h.CancelBooking)
	})

	r.Get("/users/{id}/bookings", h.ListUserBookings)
	r.Get("/users/{id}/stats", h.BookingStats)

	return r
}
