package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-appointment-scheduler/internal/appointment"
)

type RouterConfig struct {
	Service  *appointment.Service
	Postgres Pinger
	Redis    Pinger
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
	Env      string
	Version  string

	// RateLimit caps requests per second on the scheduling routes. Zero
	// disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	svc := cfg.Service

	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			burst := cfg.RateBurst
			if burst <= 0 {
				burst = 1
			}
			r.Use(RateLimitMiddleware(cfg.RateLimit, burst))
		}

		r.Route("/doctors", func(r chi.Router) {
			r.Post("/", createDoctorHandler(svc))
			r.Get("/", listDoctorsHandler(svc))
			r.Get("/{id}", getDoctorHandler(svc))
			r.Put("/{id}", updateDoctorHandler(svc))
			r.Delete("/{id}", deleteDoctorHandler(svc))
			r.Get("/{id}/slots", availableSlotsHandler(svc))
		})

		r.Route("/patients", func(r chi.Router) {
			r.Post("/", createPatientHandler(svc))
			r.Get("/search", searchPatientsHandler(svc))
			r.Get("/{id}", getPatientHandler(svc))
			r.Put("/{id}", updatePatientHandler(svc))
			r.Get("/{id}/appointments", listPatientAppointmentsHandler(svc))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", createAppointmentHandler(svc))
			r.Get("/", listAppointmentsHandler(svc))
			r.Get("/{id}", getAppointmentHandler(svc))
			r.Post("/{id}/cancel", cancelAppointmentHandler(svc))
			r.Get("/{id}/reminders", listRemindersHandler(svc))
		})
	})

	return r
}
