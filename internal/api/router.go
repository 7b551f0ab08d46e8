package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/availability"
)

type RouterConfig struct {
	Bookings     *appointment.Service
	Availability *availability.Service
	Auth         *auth.Authenticator
	Logger       *zap.Logger

	// Optional
	Storage        Pinger          // nil for in-memory storage
	Redis          Pinger          // nil when redis is disabled
	BookingLimiter RateLimiter     // nil disables throttling of POST /bookings
	HTTPMetrics    RequestObserver // request latency histogram
	MetricsHandler http.Handler    // served on /metrics

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := cfg.Bookings

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(logger, cfg.HTTPMetrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Storage, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Public availability reads
	r.Get("/providers/{id}/availability", freeSlotsHandler(svc, logger))
	r.Get("/providers/{id}/weekly-availability", weeklyAvailabilityHandler(svc, cfg.Availability, logger))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Auth, logger))

		r.Route("/providers/me", func(r chi.Router) {
			r.Use(RequireRole(auth.RoleProvider))
			r.Get("/availability", getMyAvailabilityHandler(svc, cfg.Availability, logger))
			r.Put("/availability", setMyAvailabilityHandler(svc, cfg.Availability, logger))
		})

		r.Route("/bookings", func(r chi.Router) {
			r.With(
				RequireRole(auth.RoleRequester, auth.RoleAdmin),
				RateLimit(cfg.BookingLimiter, "bookings", logger),
			).Post("/", createBookingHandler(svc, logger))

			r.With(RequireRole(auth.RoleRequester)).Get("/mine", listMyBookingsHandler(svc, logger))
			r.With(RequireRole(auth.RoleProvider)).Get("/provider/mine", listProviderBookingsHandler(svc, logger))

			r.Get("/{id}", getBookingHandler(svc, logger))
			r.Put("/{id}/status", updateStatusHandler(svc, logger))
			r.Put("/{id}/cancel", cancelBookingHandler(svc, logger))
		})
	})

	return r
}
