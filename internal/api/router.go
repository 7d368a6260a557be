package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/booking"
)

type RouterConfig struct {
	Manager        *booking.Manager
	Auth           *Authenticator
	Dependencies   []Dependency
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.RequestTimeout > 0 {
		r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	m := cfg.Manager
	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Get("/business-hours", businessHoursHandler(m))
		r.Get("/categories", listCategoriesHandler(m))
		r.Get("/providers", listProvidersHandler(m, false))
		r.Get("/providers/active", listProvidersHandler(m, true))
		r.Get("/services", servicesHandler(m, false, false))
		r.Get("/services/featured", servicesHandler(m, true, false))
		r.Get("/services/by-category", servicesHandler(m, false, true))
		r.Get("/services/{id}", getServiceHandler(m))
		r.Get("/services/{id}/available-times", availableTimesHandler(m))
		r.Get("/services/{id}/time-updates", timeUpdatesHandler(m))

		r.Group(func(r chi.Router) {
			r.Use(RequireActor())

			r.With(RequireActor(booking.ActorUser)).Post("/reservations", createReservationHandler(m))
			r.Get("/reservations", listReservationsHandler(m, booking.ViewAll))
			r.Get("/reservations/upcoming", listReservationsHandler(m, booking.ViewUpcoming))
			r.Get("/reservations/history", listReservationsHandler(m, booking.ViewHistory))
			r.Get("/reservations/{id}", getReservationHandler(m))
			r.Post("/reservations/{id}/cancel", transitionHandler(m, booking.StatusCancelled))
			r.Post("/reservations/{id}/confirm", transitionHandler(m, booking.StatusConfirmed))
			r.Post("/reservations/{id}/complete", transitionHandler(m, booking.StatusCompleted))

			r.With(RequireActor(booking.ActorUser)).Post("/reviews", createReviewHandler(m))
			r.Get("/reviews", listReviewsHandler(m))
			r.Get("/services/{id}/reviews", serviceReviewsHandler(m))
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireProvider)

			r.Get("/provider-reservations", listReservationsHandler(m, booking.ViewAll))
			r.Get("/provider-reservations/time-updates", providerTimeUpdatesHandler(m))
			r.Get("/provider-reservations/{id}/update-status", providerUpdateStatusHandler(m))
			r.Post("/provider-reservations/{id}/update-status", providerUpdateStatusHandler(m))
		})
	})

	return r
}
