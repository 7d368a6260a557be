package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ActiveStatuses hold a slot; only these take part in conflict checks.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Category struct {
	ID          uuid.UUID
	Name        string
	Description string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Provider struct {
	ID              uuid.UUID
	Name            string
	Description     *string
	Phone           *string
	Email           *string
	Specialties     *string
	ExperienceYears int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Service struct {
	ID              uuid.UUID
	CategoryID      *uuid.UUID
	ProviderID      *uuid.UUID
	Name            string
	Description     string
	Price           decimal.Decimal
	DurationMin     int
	MinAdvanceHours int
	MaxAdvanceDays  int
	IsActive        bool
	IsFeatured      bool
	StockQuantity   int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Bookable reports whether the service can take new reservations.
func (s Service) Bookable() bool {
	return s.IsActive && s.StockQuantity > 0
}

func (s Service) Validate() error {
	switch {
	case s.Name == "":
		return validationError("service name is required")
	case s.DurationMin <= 0:
		return validationError("service duration must be positive")
	case s.MinAdvanceHours < 0 || s.MaxAdvanceDays < 0:
		return validationError("advance booking bounds must not be negative")
	case s.StockQuantity < 0:
		return validationError("stock quantity must not be negative")
	case s.Price.IsNegative():
		return validationError("price must not be negative")
	}
	return nil
}

// BusinessHours is the operating window of one weekday, 0 = Monday.
type BusinessHours struct {
	Day      int
	Open     Clock
	Close    Clock
	IsClosed bool
}

type Reservation struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	ServiceID  uuid.UUID
	ProviderID *uuid.UUID // nil on legacy rows
	Date       time.Time
	Time       Clock
	Status     Status
	Notes      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ScopeFilter selects the reservations that block slots. A reservation is in
// scope when any of the set fields matches it.
type ScopeFilter struct {
	ProviderID *uuid.UUID
	ServiceID  *uuid.UUID
	UserID     *uuid.UUID
}

// Matches mirrors the store query for in-process filtering.
func (f ScopeFilter) Matches(r Reservation) bool {
	if f.ProviderID != nil && r.ProviderID != nil && *r.ProviderID == *f.ProviderID {
		return true
	}
	if f.ServiceID != nil && r.ServiceID == *f.ServiceID {
		return true
	}
	if f.UserID != nil && r.UserID == *f.UserID {
		return true
	}
	return false
}

func (f ScopeFilter) Empty() bool {
	return f.ProviderID == nil && f.ServiceID == nil && f.UserID == nil
}

// ScopeFor derives the conflict scope for a service. A bound provider scopes
// to that provider's reservations; otherwise the scope is the service's own
// reservations plus, when known, the requesting user's reservations.
func ScopeFor(svc Service, userID *uuid.UUID) ScopeFilter {
	if svc.ProviderID != nil {
		pid := *svc.ProviderID
		return ScopeFilter{ProviderID: &pid}
	}
	sid := svc.ID
	f := ScopeFilter{ServiceID: &sid}
	if userID != nil && *userID != uuid.Nil {
		uid := *userID
		f.UserID = &uid
	}
	return f
}

type ListFilter struct {
	UserID     *uuid.UUID
	ProviderID *uuid.UUID
	FromDate   *time.Time
	ActiveOnly bool
	Ascending  bool
	Limit      int
	Offset     int
}

type ServiceFilter struct {
	ActiveOnly   bool
	FeaturedOnly bool
	CategoryID   *uuid.UUID
	ProviderID   *uuid.UUID
}

func (f ServiceFilter) Matches(s Service) bool {
	switch {
	case f.ActiveOnly && !s.IsActive:
		return false
	case f.FeaturedOnly && !s.IsFeatured:
		return false
	case f.CategoryID != nil && (s.CategoryID == nil || *s.CategoryID != *f.CategoryID):
		return false
	case f.ProviderID != nil && (s.ProviderID == nil || *s.ProviderID != *f.ProviderID):
		return false
	}
	return true
}

const (
	MinRating = 1
	MaxRating = 5
)

// Review is a customer's rating of a completed reservation. UserID, ServiceID
// and ProviderID are taken from the reservation.
type Review struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	UserID        uuid.UUID
	ServiceID     uuid.UUID
	ProviderID    *uuid.UUID
	Rating        int
	Comment       string
	CreatedAt     time.Time
}

// ReviewFilter matches reviews whose reservation has all of the set fields.
type ReviewFilter struct {
	UserID     *uuid.UUID
	ServiceID  *uuid.UUID
	ProviderID *uuid.UUID
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
