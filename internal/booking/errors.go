package booking

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
)

var (
	ErrServiceNotFound     = fmt.Errorf("service %w", ErrNotFound)
	ErrProviderNotFound    = fmt.Errorf("provider %w", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("reservation %w", ErrNotFound)
	ErrHoursNotFound       = fmt.Errorf("business hours %w", ErrNotFound)

	ErrSlotTaken            = fmt.Errorf("%w: slot already reserved", ErrConflict)
	ErrDuplicateReservation = fmt.Errorf("%w: you already hold a reservation for this slot", ErrConflict)
	ErrSlotBeingBooked      = fmt.Errorf("%w: slot is currently being booked", ErrConflict)
	ErrSlotUnavailable      = fmt.Errorf("%w: slot overlaps an existing reservation", ErrConflict)
	ErrReviewExists         = fmt.Errorf("%w: reservation already has a review", ErrConflict)
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
