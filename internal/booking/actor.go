package booking

import (
	"fmt"

	"github.com/google/uuid"
)

type ActorKind string

const (
	ActorUser     ActorKind = "user"
	ActorProvider ActorKind = "provider"
	ActorAdmin    ActorKind = "admin"
)

// Actor is the caller identity passed explicitly into every lifecycle call.
type Actor struct {
	Kind ActorKind
	ID   uuid.UUID
}

func ParseActorKind(s string) (ActorKind, bool) {
	switch k := ActorKind(s); k {
	case ActorUser, ActorProvider, ActorAdmin:
		return k, true
	}
	return "", false
}

func (a Actor) IsAdmin() bool { return a.Kind == ActorAdmin }

func (a Actor) owns(r Reservation) bool {
	return a.Kind == ActorUser && a.ID == r.UserID
}

func (a Actor) boundTo(r Reservation) bool {
	return a.Kind == ActorProvider && r.ProviderID != nil && *r.ProviderID == a.ID
}

// CanView reports whether the actor may read the reservation.
func (a Actor) CanView(r Reservation) bool {
	return a.IsAdmin() || a.owns(r) || a.boundTo(r)
}

// Authorize checks whether the actor may move r into the target status.
func (a Actor) Authorize(r Reservation, to Status) error {
	switch to {
	case StatusConfirmed, StatusCompleted:
		if a.IsAdmin() || a.boundTo(r) {
			return nil
		}
	case StatusCancelled:
		if a.IsAdmin() || a.boundTo(r) || a.owns(r) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not set status %s", ErrForbidden, a.Kind, to)
}
