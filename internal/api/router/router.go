// Package router assembles the HTTP surface: public booking and callback
// endpoints, and the JWT-guarded admin API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/http/handlers"
	httpmiddleware "github.com/Tuyen-ares/spa-anhTho-sub002/internal/http/middleware"
	"github.com/Tuyen-ares/spa-anhTho-sub002/internal/payments"
	"github.com/Tuyen-ares/spa-anhTho-sub002/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Health            *handlers.HealthHandler
	Bookings          *handlers.BookingHandler
	Availability      *handlers.AvailabilityHandler
	PaymentCallbacks  *payments.CallbackHandler
	AdminAppointments *handlers.AdminAppointmentsHandler
	AdminTreatments   *handlers.AdminTreatmentsHandler

	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// PublicRateLimit bounds unauthenticated booking traffic per IP,
	// requests per second. Zero disables limiting.
	PublicRateLimit float64
	PublicBurst     int
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		if cfg.PublicRateLimit > 0 {
			public.Use(httpmiddleware.RateLimit(cfg.PublicRateLimit, cfg.PublicBurst))
		}
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Check)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Bookings != nil {
			public.Post("/bookings", cfg.Bookings.Create)
			public.Get("/bookings/{id}", cfg.Bookings.Get)
		}
		if cfg.Availability != nil {
			public.Get("/availability", cfg.Availability.ListForDate)
		}
		// Gateway callbacks carry their own HMAC; they never go behind the
		// admin guard.
		if cfg.PaymentCallbacks != nil {
			public.Get("/payments/return", cfg.PaymentCallbacks.HandleReturn)
			public.Get("/payments/ipn", cfg.PaymentCallbacks.HandleIPN)
		}
	})

	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.AdminAppointments != nil {
				admin.Post("/appointments", cfg.AdminAppointments.CreateDirect)
				admin.Post("/appointments/{id}/confirm", cfg.AdminAppointments.Confirm)
				admin.Patch("/appointments/{id}", cfg.AdminAppointments.Update)
				admin.Post("/appointments/{id}/cancel", cfg.AdminAppointments.Cancel)
				admin.Delete("/appointments/{id}", cfg.AdminAppointments.Delete)
				admin.Post("/payments/{id}/collect", cfg.AdminAppointments.CollectCash)
			}

			if cfg.AdminTreatments != nil {
				admin.Post("/programs", cfg.AdminTreatments.Create)
				admin.Get("/programs/{id}", cfg.AdminTreatments.Progress)
				admin.Post("/programs/{id}/enroll", cfg.AdminTreatments.Enroll)
				admin.Post("/programs/{id}/pause", cfg.AdminTreatments.Pause)
				admin.Post("/programs/{id}/resume", cfg.AdminTreatments.Resume)
				admin.Post("/sessions/{id}/schedule", cfg.AdminTreatments.ScheduleSession)
				admin.Post("/sessions/{id}/complete", cfg.AdminTreatments.CompleteSession)
			}
		})
	}

	return r
}
