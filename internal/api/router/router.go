package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/wolfman30/medicarex-booking/internal/access"
	"github.com/wolfman30/medicarex-booking/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medicarex-booking/internal/http/middleware"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Resolver           access.Resolver
	Booking            *handlers.BookingHandler
	Payments           *handlers.PaymentHandler
	Admin              *handlers.AdminHandler
	Health             http.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// ReserveRatePerSecond limits POST /booking/reserve per client IP; zero disables it.
	ReserveRatePerSecond float64
	ReserveBurst         int
	// LoginAttemptsPerMinute limits POST /admin/login per client IP; zero disables it.
	LoginAttemptsPerMinute int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints: health, metrics, gateway webhooks, admin login, slot browsing.
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Method(http.MethodGet, "/health", cfg.Health)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Payments != nil {
			public.Post("/payment/webhook/{gateway}", cfg.Payments.Webhook)
		}
		if cfg.Admin != nil {
			if cfg.LoginAttemptsPerMinute > 0 {
				public.With(httprate.LimitByIP(cfg.LoginAttemptsPerMinute, time.Minute)).Post("/admin/login", cfg.Admin.Login)
			} else {
				public.Post("/admin/login", cfg.Admin.Login)
			}
		}
		if cfg.Booking != nil {
			public.Get("/doctors/{doctorID}/slots", cfg.Booking.ListSlots)
		}
	})

	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.Authenticate(cfg.Resolver))

		if cfg.Booking != nil {
			authed.Route("/booking", func(b chi.Router) {
				reserve := http.HandlerFunc(cfg.Booking.Reserve)
				if cfg.ReserveRatePerSecond > 0 {
					burst := cfg.ReserveBurst
					if burst <= 0 {
						burst = 1
					}
					b.With(httpmiddleware.RateLimit(cfg.ReserveRatePerSecond, burst)).Post("/reserve", reserve)
				} else {
					b.Post("/reserve", reserve)
				}
				b.Get("/", cfg.Booking.List)
				b.Get("/{id}", cfg.Booking.Get)
				b.Post("/{id}/cancel", cfg.Booking.Cancel)
				b.Post("/{id}/complete", cfg.Booking.Complete)
			})
			authed.Post("/doctors/{doctorID}/slots", cfg.Booking.PublishSlots)
		}
		if cfg.Payments != nil {
			authed.Post("/payment/order", cfg.Payments.CreateOrder)
			authed.Post("/payment/verify", cfg.Payments.Verify)
		}
		if cfg.Admin != nil {
			admin := authed.With(httpmiddleware.RequireRole(access.RoleAdmin))
			admin.Get("/admin/dashboard", cfg.Admin.Dashboard)
			admin.Get("/admin/anomalies", cfg.Admin.ListAnomalies)
			admin.Post("/admin/anomalies/{id}/resolve", cfg.Admin.ResolveAnomaly)
		}
	})

	return r
}
