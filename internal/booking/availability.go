package booking

import (
	"context"
	"fmt"
	"time"
)

// ReservationReader is the slice of the store the availability engine reads.
type ReservationReader interface {
	ListActiveInScope(ctx context.Context, date time.Time, scope ScopeFilter) ([]Reservation, error)
}

// Engine derives bookable start times. It never writes.
type Engine struct {
	calendar     Calendar
	reservations ReservationReader
}

func NewEngine(cal Calendar, reservations ReservationReader) *Engine {
	return &Engine{calendar: cal, reservations: reservations}
}

// AvailableSlots returns the ordered start times for svc on date that fit the
// business window and are not blocked by an active reservation in scope.
func (e *Engine) AvailableSlots(ctx context.Context, svc Service, date time.Time, scope ScopeFilter) ([]Clock, error) {
	hours, open, err := OpenWindow(ctx, e.calendar, WeekdayIndex(date))
	if err != nil {
		return nil, err
	}
	if !open {
		return []Clock{}, nil
	}

	var booked []Reservation
	if !scope.Empty() {
		booked, err = e.reservations.ListActiveInScope(ctx, DateOf(date), scope)
		if err != nil {
			return nil, fmt.Errorf("list reservations in scope: %w", err)
		}
	}

	return ComputeSlots(hours, svc.DurationMin, StartTimes(booked)), nil
}

// StartTimes lists the recorded start time of each reservation.
func StartTimes(rs []Reservation) []Clock {
	out := make([]Clock, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Time)
	}
	return out
}

// ComputeSlots walks the window in SlotStep increments. A candidate is kept when
// start+duration <= close and none of the grid points in [start, start+duration)
// equals a blocked start time. Blocking compares recorded start times only, not
// interval overlap.
func ComputeSlots(hours BusinessHours, durationMin int, blocked []Clock) []Clock {
	slots := []Clock{}
	if hours.IsClosed || durationMin <= 0 {
		return slots
	}

	taken := make(map[Clock]struct{}, len(blocked))
	for _, b := range blocked {
		taken[b] = struct{}{}
	}

	for start := hours.Open; start < hours.Close; start += SlotStep {
		end := start.Add(durationMin)
		if end > hours.Close {
			continue
		}
		free := true
		for check := start; check < end; check += SlotStep {
			if _, ok := taken[check]; ok {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, start)
		}
	}
	return slots
}

// SlotOpen reports whether ComputeSlots would offer t.
func SlotOpen(hours BusinessHours, durationMin int, blocked []Clock, t Clock) bool {
	for _, s := range ComputeSlots(hours, durationMin, blocked) {
		if s == t {
			return true
		}
	}
	return false
}

// FitsWindow reports whether a reservation of durationMin starting at t is a
// candidate the engine could generate for hours.
func FitsWindow(hours BusinessHours, t Clock, durationMin int) bool {
	if hours.IsClosed || t < hours.Open || t >= hours.Close {
		return false
	}
	if (t-hours.Open)%SlotStep != 0 {
		return false
	}
	return t.Add(durationMin) <= hours.Close
}

func FormatClocks(cs []Clock) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}
