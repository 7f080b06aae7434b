package slots

import (
	"fmt"

	"bronivik/bronivik_schedule/internal/model"
)

// DefaultStepMinutes is the single cursor step used for every slot list.
const DefaultStepMinutes = 15

// Generator produces free start times for a date.
type Generator struct {
	resolver *Resolver
	step     int
}

// NewGenerator creates a slot generator. A non-positive step falls back to
// DefaultStepMinutes.
func NewGenerator(resolver *Resolver, stepMinutes int) *Generator {
	if stepMinutes <= 0 {
		stepMinutes = DefaultStepMinutes
	}
	return &Generator{resolver: resolver, step: stepMinutes}
}

// Resolver exposes the policy source the generator works against.
func (g *Generator) Resolver() *Resolver {
	return g.resolver
}

// Generate returns the ascending start times on date where a service of the
// given duration fits inside working hours without touching a break or an
// active booking. excludeID drops one booking from occupancy so an edited
// booking does not collide with itself.
func (g *Generator) Generate(date model.Date, durationMinutes int, bookings []model.Booking, excludeID string) ([]model.Clock, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidDuration, durationMinutes)
	}

	policy := g.resolver.Resolve(date)
	if !policy.IsWorkingDay {
		return []model.Clock{}, nil
	}

	breaks := policy.ActiveBreaks()
	occupied := occupiedIntervals(date, bookings, excludeID)

	result := make([]model.Clock, 0)
	for cursor := policy.StartTime; cursor < policy.EndTime; cursor = cursor.Add(g.step) {
		candidate := model.NewInterval(cursor, durationMinutes)

		if candidate.End > policy.EndTime {
			// Every later cursor ends even further out.
			break
		}
		if overlapsBreak(candidate, breaks) {
			continue
		}
		if overlapsAny(candidate, occupied) {
			continue
		}

		result = append(result, cursor)
	}

	return result, nil
}

// Strings formats slots as "HH:MM".
func Strings(slots []model.Clock) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.String()
	}
	return out
}

// occupiedIntervals collects the intervals of active bookings on date.
// Bookings running past closing time are kept as given.
func occupiedIntervals(date model.Date, bookings []model.Booking, excludeID string) []model.Interval {
	var out []model.Interval
	for i := range bookings {
		b := &bookings[i]
		if !occupies(b, date, excludeID) {
			continue
		}
		out = append(out, b.Interval())
	}
	return out
}

func occupies(b *model.Booking, date model.Date, excludeID string) bool {
	if b.Date != date || !b.Active() {
		return false
	}
	if excludeID != "" && b.ID == excludeID {
		return false
	}
	return true
}

func overlapsBreak(candidate model.Interval, breaks []model.Break) bool {
	for _, br := range breaks {
		if candidate.Overlaps(br.Interval()) {
			return true
		}
	}
	return false
}

func overlapsAny(candidate model.Interval, intervals []model.Interval) bool {
	for _, iv := range intervals {
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}
