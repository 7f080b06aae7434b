package slots

import (
	"fmt"

	"bronivik/bronivik_schedule/internal/model"
)

// MaxRangeDays bounds a single aggregation request.
const MaxRangeDays = 92

// DayStatus buckets one calendar day for month-level views.
type DayStatus string

const (
	DayNonWorking DayStatus = "non-working"
	DayNoSlots    DayStatus = "no-slots"
	DayHasSlots   DayStatus = "has-slots"
)

// DaySummary is the availability of one date.
type DaySummary struct {
	Status DayStatus `json:"status"`
	Slots  []string  `json:"slots"`
}

// GroupByDate indexes bookings by date, preserving their order.
func GroupByDate(bookings []model.Booking) map[model.Date][]model.Booking {
	out := make(map[model.Date][]model.Booking)
	for _, b := range bookings {
		out[b.Date] = append(out[b.Date], b)
	}
	return out
}

// Aggregate runs the generator over every date in [from, to].
func Aggregate(
	g *Generator,
	from, to model.Date,
	durationMinutes int,
	bookingsByDate map[model.Date][]model.Booking,
) (map[model.Date]DaySummary, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidDuration, durationMinutes)
	}
	if !from.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidDate, from)
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidDate, to)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("range start %s is after end %s", from, to)
	}
	if model.DaysBetween(from, to) > MaxRangeDays {
		return nil, fmt.Errorf("date range exceeds maximum of %d days", MaxRangeDays)
	}

	result := make(map[model.Date]DaySummary)
	for d := from; !to.Before(d); d = d.AddDays(1) {
		if !g.resolver.Resolve(d).IsWorkingDay {
			result[d] = DaySummary{Status: DayNonWorking, Slots: []string{}}
			continue
		}

		free, err := g.Generate(d, durationMinutes, bookingsByDate[d], "")
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", d, err)
		}

		status := DayHasSlots
		if len(free) == 0 {
			status = DayNoSlots
		}
		result[d] = DaySummary{Status: status, Slots: Strings(free)}
	}

	return result, nil
}
