package booking

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SlotKey identifies the slot a create call competes for. UserID is set when
// the requesting user's own reservations take part in the conflict scope.
type SlotKey struct {
	ServiceID  uuid.UUID
	ProviderID *uuid.UUID
	UserID     *uuid.UUID
	Date       time.Time
	Time       Clock
}

// LockKeys lists every key that must be held while checking and inserting,
// sorted so that concurrent holders always acquire them in the same order.
// Keys cover the whole date so that overlapping start times also serialise.
func (k SlotKey) LockKeys() []string {
	suffix := ":" + FormatDate(k.Date)
	keys := []string{"service:" + k.ServiceID.String() + suffix}
	if k.ProviderID != nil {
		keys = append(keys, "provider:"+k.ProviderID.String()+suffix)
	}
	if k.UserID != nil {
		keys = append(keys, "user:"+k.UserID.String()+suffix)
	}
	sort.Strings(keys)
	return keys
}

// PrimaryKey is the narrowest key for the slot: provider when known, else service.
func (k SlotKey) PrimaryKey() string {
	suffix := ":" + FormatDate(k.Date) + ":" + k.Time.String()
	if k.ProviderID != nil {
		return "provider:" + k.ProviderID.String() + suffix
	}
	return "service:" + k.ServiceID.String() + suffix
}

// Scope is the conflict scope the grid check runs against inside the slot tx.
func (k SlotKey) Scope() ScopeFilter {
	sid := k.ServiceID
	return ScopeFilter{ServiceID: &sid, ProviderID: k.ProviderID, UserID: k.UserID}
}

// SlotTx is the view of the store inside a serialised check-and-insert region.
type SlotTx interface {
	// FindActiveDuplicate finds an active reservation by the same user for the same service slot.
	FindActiveDuplicate(ctx context.Context, userID uuid.UUID, key SlotKey) (*Reservation, error)
	// FindActiveTaken finds an active reservation at the same start time for the
	// same service, or for the same provider when the key carries one.
	FindActiveTaken(ctx context.Context, key SlotKey) (*Reservation, error)
	ListActiveInScope(ctx context.Context, date time.Time, scope ScopeFilter) ([]Reservation, error)
	Insert(ctx context.Context, r Reservation) (*Reservation, error)
}

// Repository contains all store interactions needed by the manager.
type Repository interface {
	Calendar
	ReservationReader

	ListBusinessHours(ctx context.Context) ([]BusinessHours, error)

	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
	ListServices(ctx context.Context, f ServiceFilter) ([]Service, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	ListProviders(ctx context.Context, activeOnly bool) ([]Provider, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]Category, error)

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListReservations(ctx context.Context, f ListFilter) ([]Reservation, error)

	// InSlotTx runs fn while holding every lock key of the slot; the duplicate
	// and taken checks and the insert inside fn are atomic with respect to
	// other InSlotTx calls for the same keys.
	InSlotTx(ctx context.Context, key SlotKey, fn func(ctx context.Context, tx SlotTx) error) error

	// UpdateStatus moves id from -> to; ErrReservationNotFound when the row is
	// missing or no longer in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error)

	// BackfillProviders copies the service's provider onto reservations that lack one.
	BackfillProviders(ctx context.Context) (int64, error)

	// InsertReview returns ErrReviewExists when the reservation already has one.
	InsertReview(ctx context.Context, rv Review) (*Review, error)
	ListReviews(ctx context.Context, f ReviewFilter) ([]Review, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
