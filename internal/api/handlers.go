package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/booking"
)

var validate = validator.New()

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// requestingUser is the caller's id when the caller is an end user; it widens
// availability scope for services without a bound provider.
func requestingUser(ctx context.Context) *uuid.UUID {
	actor, ok := ActorFrom(ctx)
	if !ok || actor.Kind != booking.ActorUser {
		return nil
	}
	id := actor.ID
	return &id
}

// anonymous callers browse with user rights
func actorOrGuest(ctx context.Context) booking.Actor {
	if actor, ok := ActorFrom(ctx); ok {
		return actor
	}
	return booking.Actor{Kind: booking.ActorUser}
}

func availableTimesHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		date, err := booking.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := m.AvailableTimes(r.Context(), id, date, requestingUser(r.Context()))
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, booking.FormatClocks(slots))
	}
}

func timeUpdatesHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		since, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be an RFC3339 timestamp")
			return
		}

		changes, err := m.ChangesSince(r.Context(), id, since, requestingUser(r.Context()))
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]TimeUpdateResponse, 0, len(changes))
		for _, c := range changes {
			resp = append(resp, TimeUpdateResponse{
				Date:           booking.FormatDate(c.Date),
				ChangedAt:      c.ChangedAt,
				AvailableTimes: booking.FormatClocks(c.Slots),
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// providerTimeUpdatesHandler reports, per changed date, the fresh slots of
// every service bound to the authenticated provider.
func providerTimeUpdatesHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		since, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", "since must be an RFC3339 timestamp")
			return
		}

		changes, err := m.ProviderChangesSince(r.Context(), actor.ID, since)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]ProviderTimeUpdateResponse, 0, len(changes))
		for _, c := range changes {
			u := ProviderTimeUpdateResponse{
				Date:      booking.FormatDate(c.Date),
				ChangedAt: c.ChangedAt,
				Services:  make([]ServiceTimesResponse, 0, len(c.Services)),
			}
			for _, s := range c.Services {
				u.Services = append(u.Services, ServiceTimesResponse{ServiceID: s.ServiceID, AvailableTimes: booking.FormatClocks(s.Slots)})
			}
			resp = append(resp, u)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// serviceFilter reads the featured and category_id query parameters.
func serviceFilter(r *http.Request) (booking.ServiceFilter, error) {
	q := r.URL.Query()
	f := booking.ServiceFilter{FeaturedOnly: q.Get("featured") == "true"}
	if v := q.Get("category_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, err
		}
		f.CategoryID = &id
	}
	return f, nil
}

// servicesHandler lists services, honouring the featured and category_id
// query parameters. featured forces the featured filter; needCategory makes
// category_id mandatory.
func servicesHandler(m *booking.Manager, featured, needCategory bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := serviceFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_id", "category_id must be a valid UUID")
			return
		}
		if needCategory && f.CategoryID == nil {
			writeError(w, http.StatusBadRequest, "validation_error", "category_id is required")
			return
		}

		if featured {
			f.FeaturedOnly = true
		}

		services, err := m.ListServices(r.Context(), actorOrGuest(r.Context()), f)
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]ServiceResponse, 0, len(services))
		for i := range services {
			resp = append(resp, toServiceResponse(&services[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getServiceHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		svc, err := m.GetService(r.Context(), actorOrGuest(r.Context()), id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toServiceResponse(svc))
	}
}

func listProvidersHandler(m *booking.Manager, activeOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers, err := m.ListProviders(r.Context(), actorOrGuest(r.Context()), activeOnly)
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]ProviderResponse, 0, len(providers))
		for i := range providers {
			resp = append(resp, toProviderResponse(&providers[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listCategoriesHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		categories, err := m.ListCategories(r.Context(), actorOrGuest(r.Context()))
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]CategoryResponse, 0, len(categories))
		for _, c := range categories {
			resp = append(resp, CategoryResponse{ID: c.ID, Name: c.Name, Description: c.Description, IsActive: c.IsActive})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func businessHoursHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := m.BusinessHours(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}
		resp := make([]BusinessHoursResponse, 0, len(hours))
		for _, h := range hours {
			resp = append(resp, BusinessHoursResponse{Day: h.Day, Open: h.Open.String(), Close: h.Close.String(), IsClosed: h.IsClosed})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createReservationHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req CreateReservationRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		in := booking.CreateInput{UserID: actor.ID, Notes: req.Notes}
		var err error
		if in.ServiceID, err = uuid.Parse(req.ServiceID); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "service_id must be a valid UUID")
			return
		}
		if req.ProviderID != "" {
			pid, err := uuid.Parse(req.ProviderID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "validation_error", "provider_id must be a valid UUID")
				return
			}
			in.ProviderID = &pid
		}

		if in.Date, err = booking.ParseDate(req.Date); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "date must be YYYY-MM-DD")
			return
		}
		if in.Time, err = booking.ParseClock(req.Time); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "time must be HH:MM")
			return
		}

		res, err := m.Create(r.Context(), in)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReservationResponse(res))
	}
}

func transitionHandler(m *booking.Manager, to booking.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, _ := ActorFrom(r.Context())

		res, err := m.Transition(r.Context(), actor, id, to)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func listReservationsHandler(m *booking.Manager, view booking.ReservationView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		rs, err := m.ListReservations(r.Context(), actor, view)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReservationList(rs))
	}
}

func getReservationHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, _ := ActorFrom(r.Context())
		res, err := m.GetReservation(r.Context(), actor, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

// providerUpdateStatusHandler applies a status change for the authenticated
// provider and returns the recomputed slots of the reservation's date. The
// status comes from the JSON body, or the "status" query parameter when the
// body is empty.
func providerUpdateStatusHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, _ := ActorFrom(r.Context())

		var req UpdateStatusRequest
		if err := decodeBody(r, &req); err != nil {
			if !errors.Is(err, io.EOF) {
				writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
				return
			}
			req.Status = r.URL.Query().Get("status")
			if err := validate.Struct(req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
				return
			}
		}
		to, _ := booking.ParseStatus(req.Status)

		res, err := m.Transition(r.Context(), actor, id, to)
		if err != nil {
			handleError(w, r, err)
			return
		}

		slots, err := m.AvailableTimes(r.Context(), res.ServiceID, res.Date, nil)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, UpdateStatusResponse{
			Reservation:    toReservationResponse(res),
			AvailableTimes: booking.FormatClocks(slots),
		})
	}
}

func createReviewHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())

		var req CreateReviewRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
		id, err := uuid.Parse(req.ReservationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "reservation_id must be a valid UUID")
			return
		}

		rv, err := m.CreateReview(r.Context(), actor, booking.ReviewInput{ReservationID: id, Rating: req.Rating, Comment: req.Comment})
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toReviewResponse(rv))
	}
}

func listReviewsHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		reviews, err := m.ListReviews(r.Context(), actor)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReviewList(reviews))
	}
}

func serviceReviewsHandler(m *booking.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		actor, _ := ActorFrom(r.Context())
		reviews, err := m.ServiceReviews(r.Context(), actor, id)
		if err != nil {
			handleError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toReviewList(reviews))
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case booking.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(w, http.StatusBadRequest, "conflict", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "timeout", "request timed out")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
