package booking

import (
	"context"
	"errors"
	"fmt"
)

// Calendar is the read side of the business calendar.
type Calendar interface {
	// HoursFor returns ErrHoursNotFound when no entry is configured.
	HoursFor(ctx context.Context, weekday int) (*BusinessHours, error)
}

// OpenWindow resolves the open window for weekday. A missing or closed entry
// reports ok=false; only infrastructure failures are returned as errors.
func OpenWindow(ctx context.Context, cal Calendar, weekday int) (hours BusinessHours, ok bool, err error) {
	if weekday < 0 || weekday > 6 {
		return BusinessHours{}, false, fmt.Errorf("weekday %d out of range", weekday)
	}
	h, err := cal.HoursFor(ctx, weekday)
	if err != nil {
		if errors.Is(err, ErrHoursNotFound) {
			return BusinessHours{}, false, nil
		}
		return BusinessHours{}, false, fmt.Errorf("load business hours: %w", err)
	}
	if h == nil || h.IsClosed {
		return BusinessHours{}, false, nil
	}
	return *h, true, nil
}

// ValidateWeek checks that hours holds exactly one entry per weekday and that
// every open day has open < close.
func ValidateWeek(hours []BusinessHours) error {
	var seen [7]bool
	for _, h := range hours {
		if h.Day < 0 || h.Day > 6 {
			return validationError(fmt.Sprintf("business hours day %d out of range", h.Day))
		}
		if seen[h.Day] {
			return validationError(fmt.Sprintf("duplicate business hours for day %d", h.Day))
		}
		seen[h.Day] = true
		if !h.IsClosed && h.Open >= h.Close {
			return validationError(fmt.Sprintf("business hours for day %d must open before they close", h.Day))
		}
	}
	for day, ok := range seen {
		if !ok {
			return validationError(fmt.Sprintf("missing business hours for day %d", day))
		}
	}
	return nil
}
