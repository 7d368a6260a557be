package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

const (
	EventReservationCreated       = "RESERVATION_CREATED"
	EventReservationStatusChanged = "RESERVATION_STATUS_CHANGED"
	EventReviewCreated            = "REVIEW_CREATED"
)

type Options struct {
	Location *time.Location
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Manager enforces the reservation state machine and the atomic
// check-and-insert on create.
type Manager struct {
	repo   Repository
	engine *Engine
	locker redisclient.Locker
	feed   redisclient.ChangeFeed
	loc    *time.Location
	now    func() time.Time
	log    zerolog.Logger
}

func NewManager(repo Repository, locker redisclient.Locker, feed redisclient.ChangeFeed, opts Options) *Manager {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if feed == nil {
		feed = redisclient.NewMemoryChangeFeed()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		repo:   repo,
		engine: NewEngine(repo, repo),
		locker: locker,
		feed:   feed,
		loc:    opts.Location,
		now:    opts.Now,
		log:    opts.Logger,
	}
}

func (m *Manager) today() time.Time {
	return DateOf(m.now().In(m.loc))
}

type CreateInput struct {
	UserID     uuid.UUID
	ServiceID  uuid.UUID
	ProviderID *uuid.UUID
	Date       time.Time
	Time       Clock
	Notes      *string
}

// Create validates the request and inserts a pending reservation. The duplicate
// and slot-taken guards and the grid check run inside the store's slot
// transaction together with the insert, so only a slot the engine would offer
// can be booked.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*Reservation, error) {
	if in.UserID == uuid.Nil {
		return nil, validationError("user is required")
	}
	if in.ServiceID == uuid.Nil {
		return nil, validationError("service_id is required")
	}

	now := m.now().In(m.loc)
	today := DateOf(now)
	date := DateOf(in.Date)
	if date.Before(today) {
		return nil, validationError("cannot reserve a date in the past")
	}

	svc, err := m.repo.GetService(ctx, in.ServiceID)
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			return nil, validationError("service not found")
		}
		return nil, fmt.Errorf("load service: %w", err)
	}
	if !svc.Bookable() {
		return nil, validationError("service is not available for booking")
	}

	providerID, err := m.resolveProvider(ctx, *svc, in.ProviderID)
	if err != nil {
		return nil, err
	}

	hours, err := m.checkBookingWindow(ctx, *svc, date, in.Time, now)
	if err != nil {
		return nil, err
	}

	key := SlotKey{ServiceID: svc.ID, ProviderID: providerID, Date: date, Time: in.Time}
	if svc.ProviderID == nil {
		uid := in.UserID
		key.UserID = &uid
	}

	var created *Reservation
	err = m.locker.WithSlotLock(ctx, key.PrimaryKey(), func(lockCtx context.Context) error {
		return m.repo.InSlotTx(lockCtx, key, func(ctx context.Context, tx SlotTx) error {
			dup, err := tx.FindActiveDuplicate(ctx, in.UserID, key)
			if err != nil {
				return fmt.Errorf("check duplicate reservation: %w", err)
			}
			if dup != nil {
				return ErrDuplicateReservation
			}

			taken, err := tx.FindActiveTaken(ctx, key)
			if err != nil {
				return fmt.Errorf("check slot: %w", err)
			}
			if taken != nil {
				return ErrSlotTaken
			}

			booked, err := tx.ListActiveInScope(ctx, date, key.Scope())
			if err != nil {
				return fmt.Errorf("list reservations in scope: %w", err)
			}
			if !SlotOpen(hours, svc.DurationMin, StartTimes(booked), in.Time) {
				return ErrSlotUnavailable
			}

			r, err := tx.Insert(ctx, Reservation{
				ID:         uuid.New(),
				UserID:     in.UserID,
				ServiceID:  svc.ID,
				ProviderID: providerID,
				Date:       date,
				Time:       in.Time,
				Status:     StatusPending,
				Notes:      in.Notes,
			})
			if err != nil {
				return err
			}
			created = r
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	m.markChanged(ctx, *created)
	m.logEvent(ctx, created.ID, EventReservationCreated, map[string]any{
		"user_id":    created.UserID.String(),
		"service_id": created.ServiceID.String(),
		"date":       FormatDate(created.Date),
		"time":       created.Time.String(),
	})

	return created, nil
}

// resolveProvider returns the provider the reservation is recorded against:
// the requested one, else the service's bound provider.
func (m *Manager) resolveProvider(ctx context.Context, svc Service, requested *uuid.UUID) (*uuid.UUID, error) {
	providerID := svc.ProviderID
	if requested != nil && *requested != uuid.Nil {
		if svc.ProviderID != nil && *svc.ProviderID != *requested {
			return nil, validationError("provider does not offer this service")
		}
		providerID = requested
	}
	if providerID == nil {
		return nil, nil
	}

	p, err := m.repo.GetProvider(ctx, *providerID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, validationError("provider not found")
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !p.IsActive {
		return nil, validationError("provider is not active")
	}
	id := p.ID
	return &id, nil
}

func (m *Manager) checkBookingWindow(ctx context.Context, svc Service, date time.Time, t Clock, now time.Time) (BusinessHours, error) {
	hours, open, err := OpenWindow(ctx, m.repo, WeekdayIndex(date))
	if err != nil {
		return BusinessHours{}, err
	}
	if !open {
		return BusinessHours{}, validationError("closed on the requested date")
	}
	if !FitsWindow(hours, t, svc.DurationMin) {
		return BusinessHours{}, validationError("requested time is outside business hours")
	}

	start := t.On(date, m.loc)
	if start.Before(now.Add(time.Duration(svc.MinAdvanceHours) * time.Hour)) {
		if svc.MinAdvanceHours == 0 {
			return BusinessHours{}, validationError("requested time has already passed")
		}
		return BusinessHours{}, validationError(fmt.Sprintf("reservations must be made at least %d hours in advance", svc.MinAdvanceHours))
	}
	if svc.MaxAdvanceDays > 0 && date.After(DateOf(now).AddDate(0, 0, svc.MaxAdvanceDays)) {
		return BusinessHours{}, validationError(fmt.Sprintf("reservations can be made at most %d days in advance", svc.MaxAdvanceDays))
	}
	return hours, nil
}

// Transition applies a status change on behalf of actor.
func (m *Manager) Transition(ctx context.Context, actor Actor, id uuid.UUID, to Status) (*Reservation, error) {
	r, err := m.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	if !r.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	if err := actor.Authorize(*r, to); err != nil {
		return nil, err
	}

	updated, err := m.repo.UpdateStatus(ctx, r.ID, r.Status, to)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// Lost a race with another transition.
			return nil, fmt.Errorf("%w: reservation is no longer %s", ErrInvalidTransition, r.Status)
		}
		return nil, fmt.Errorf("update reservation status: %w", err)
	}

	if r.Status.Active() != to.Active() {
		m.markChanged(ctx, *updated)
	}
	m.logEvent(ctx, updated.ID, EventReservationStatusChanged, map[string]any{
		"from":       string(r.Status),
		"to":         string(to),
		"actor_kind": string(actor.Kind),
		"actor_id":   actor.ID.String(),
	})

	return updated, nil
}

// AvailableTimes computes the bookable start times of a service on date. userID
// is the requesting user, if known.
func (m *Manager) AvailableTimes(ctx context.Context, serviceID uuid.UUID, date time.Time, userID *uuid.UUID) ([]Clock, error) {
	svc, err := m.repo.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Bookable() {
		return []Clock{}, nil
	}
	return m.engine.AvailableSlots(ctx, *svc, date, ScopeFor(*svc, userID))
}

type DateSlots struct {
	Date      time.Time
	ChangedAt time.Time
	Slots     []Clock
}

// ChangesSince lists the dates whose availability for the service changed
// after since, each with freshly computed slots.
func (m *Manager) ChangesSince(ctx context.Context, serviceID uuid.UUID, since time.Time, userID *uuid.UUID) ([]DateSlots, error) {
	svc, err := m.repo.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}

	changes, err := m.feed.ChangesSince(ctx, feedScope(*svc), since)
	if err != nil {
		return nil, fmt.Errorf("read change feed: %w", err)
	}

	out := make([]DateSlots, 0, len(changes))
	for _, c := range changes {
		date, err := ParseDate(c.Date)
		if err != nil {
			m.log.Warn().Str("date", c.Date).Msg("skipping malformed change marker")
			continue
		}
		slots := []Clock{}
		if svc.Bookable() {
			slots, err = m.engine.AvailableSlots(ctx, *svc, date, ScopeFor(*svc, userID))
			if err != nil {
				return nil, err
			}
		}
		out = append(out, DateSlots{Date: date, ChangedAt: c.ChangedAt, Slots: slots})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Manager) GetReservation(ctx context.Context, actor Actor, id uuid.UUID) (*Reservation, error) {
	r, err := m.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanView(*r) {
		return nil, ErrReservationNotFound
	}
	return r, nil
}

type ReservationView int

const (
	ViewAll ReservationView = iota
	ViewUpcoming
	ViewHistory
)

func (m *Manager) ListReservations(ctx context.Context, actor Actor, view ReservationView) ([]Reservation, error) {
	var f ListFilter
	switch actor.Kind {
	case ActorAdmin:
	case ActorProvider:
		id := actor.ID
		f.ProviderID = &id
	case ActorUser:
		id := actor.ID
		f.UserID = &id
	default:
		return nil, ErrForbidden
	}

	switch view {
	case ViewUpcoming:
		today := m.today()
		f.FromDate = &today
		f.ActiveOnly = true
		f.Ascending = true
	case ViewHistory, ViewAll:
	}
	return m.repo.ListReservations(ctx, f)
}

// ListServices applies f; non-admins only ever see active services.
func (m *Manager) ListServices(ctx context.Context, actor Actor, f ServiceFilter) ([]Service, error) {
	if !actor.IsAdmin() {
		f.ActiveOnly = true
	}
	return m.repo.ListServices(ctx, f)
}

func (m *Manager) ListProviders(ctx context.Context, actor Actor, activeOnly bool) ([]Provider, error) {
	return m.repo.ListProviders(ctx, activeOnly || !actor.IsAdmin())
}

func (m *Manager) ListCategories(ctx context.Context, actor Actor) ([]Category, error) {
	return m.repo.ListCategories(ctx, !actor.IsAdmin())
}

func (m *Manager) GetService(ctx context.Context, actor Actor, id uuid.UUID) (*Service, error) {
	svc, err := m.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if !svc.IsActive && !actor.IsAdmin() {
		return nil, ErrServiceNotFound
	}
	return svc, nil
}

func (m *Manager) BusinessHours(ctx context.Context) ([]BusinessHours, error) {
	return m.repo.ListBusinessHours(ctx)
}

// BackfillProviders populates missing reservation providers from their service.
func (m *Manager) BackfillProviders(ctx context.Context) (int64, error) {
	n, err := m.repo.BackfillProviders(ctx)
	if err != nil {
		return 0, fmt.Errorf("backfill providers: %w", err)
	}
	if n > 0 {
		m.log.Info().Int64("updated", n).Msg("reservation providers backfilled")
	}
	return n, nil
}

type ServiceSlots struct {
	ServiceID uuid.UUID
	Slots     []Clock
}

type ProviderChange struct {
	Date      time.Time
	ChangedAt time.Time
	Services  []ServiceSlots
}

// ProviderChangesSince reads the provider's change markers and recomputes the
// slots of every bookable service bound to that provider for each changed date.
func (m *Manager) ProviderChangesSince(ctx context.Context, providerID uuid.UUID, since time.Time) ([]ProviderChange, error) {
	changes, err := m.feed.ChangesSince(ctx, "provider:"+providerID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("read change feed: %w", err)
	}
	if len(changes) == 0 {
		return []ProviderChange{}, nil
	}

	pid := providerID
	services, err := m.repo.ListServices(ctx, ServiceFilter{ActiveOnly: true, ProviderID: &pid})
	if err != nil {
		return nil, err
	}

	out := make([]ProviderChange, 0, len(changes))
	for _, c := range changes {
		date, err := ParseDate(c.Date)
		if err != nil {
			m.log.Warn().Str("date", c.Date).Msg("skipping malformed change marker")
			continue
		}
		pc := ProviderChange{Date: date, ChangedAt: c.ChangedAt, Services: make([]ServiceSlots, 0, len(services))}
		for _, svc := range services {
			if !svc.Bookable() {
				continue
			}
			slots, err := m.engine.AvailableSlots(ctx, svc, date, ScopeFor(svc, nil))
			if err != nil {
				return nil, err
			}
			pc.Services = append(pc.Services, ServiceSlots{ServiceID: svc.ID, Slots: slots})
		}
		out = append(out, pc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

type ReviewInput struct {
	ReservationID uuid.UUID
	Rating        int
	Comment       string
}

// CreateReview records the owner's review of a completed reservation. Each
// reservation takes at most one review.
func (m *Manager) CreateReview(ctx context.Context, actor Actor, in ReviewInput) (*Review, error) {
	if in.Rating < MinRating || in.Rating > MaxRating {
		return nil, validationError(fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	if in.Comment == "" {
		return nil, validationError("comment is required")
	}

	r, err := m.repo.GetReservation(ctx, in.ReservationID)
	if err != nil {
		return nil, err
	}
	if actor.Kind != ActorUser || actor.ID != r.UserID {
		return nil, fmt.Errorf("%w: only the reservation owner can review it", ErrForbidden)
	}
	if r.Status != StatusCompleted {
		return nil, validationError("only completed reservations can be reviewed")
	}

	rv, err := m.repo.InsertReview(ctx, Review{
		ID:            uuid.New(),
		ReservationID: r.ID,
		UserID:        r.UserID,
		ServiceID:     r.ServiceID,
		ProviderID:    r.ProviderID,
		Rating:        in.Rating,
		Comment:       in.Comment,
	})
	if err != nil {
		return nil, err
	}

	m.logEvent(ctx, r.ID, EventReviewCreated, map[string]any{
		"review_id": rv.ID.String(),
		"rating":    rv.Rating,
	})
	return rv, nil
}

// ListReviews returns the actor's own reviews, a provider's received reviews,
// or every review for an admin.
func (m *Manager) ListReviews(ctx context.Context, actor Actor) ([]Review, error) {
	var f ReviewFilter
	switch actor.Kind {
	case ActorAdmin:
	case ActorProvider:
		id := actor.ID
		f.ProviderID = &id
	case ActorUser:
		id := actor.ID
		f.UserID = &id
	default:
		return nil, ErrForbidden
	}
	return m.repo.ListReviews(ctx, f)
}

func (m *Manager) ServiceReviews(ctx context.Context, actor Actor, serviceID uuid.UUID) ([]Review, error) {
	svc, err := m.GetService(ctx, actor, serviceID)
	if err != nil {
		return nil, err
	}
	sid := svc.ID
	return m.repo.ListReviews(ctx, ReviewFilter{ServiceID: &sid})
}

func feedScope(svc Service) string {
	if svc.ProviderID != nil {
		return "provider:" + svc.ProviderID.String()
	}
	return "service:" + svc.ID.String()
}

func (m *Manager) markChanged(ctx context.Context, r Reservation) {
	at := m.now()
	date := FormatDate(r.Date)
	scopes := []string{"service:" + r.ServiceID.String()}
	if r.ProviderID != nil {
		scopes = append(scopes, "provider:"+r.ProviderID.String())
	}
	for _, scope := range scopes {
		if err := m.feed.MarkChanged(ctx, scope, date, at); err != nil {
			m.log.Warn().Err(err).Str("scope", scope).Str("date", date).Msg("failed to mark availability change")
		}
	}
}

func (m *Manager) logEvent(ctx context.Context, reservationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event payload")
		data = []byte("{}")
	}

	id := reservationID
	ev := EventLog{
		EventType:     eventType,
		ReservationID: &id,
		Payload:       data,
		CreatedAt:     m.now(),
	}

	m.log.Info().Str("event", eventType).Str("reservation_id", reservationID.String()).RawJSON("payload", data).Msg("reservation event")

	if err := m.repo.InsertEvent(ctx, ev); err != nil {
		m.log.Warn().Err(err).Str("event", eventType).Str("reservation_id", reservationID.String()).Msg("failed to insert event log")
	}
}
