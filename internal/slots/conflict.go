package slots

import (
	"fmt"

	"bronivik/bronivik_schedule/internal/model"
)

// ConflictResult is the outcome of a conflict check. A conflict is routine
// information for the caller, not an error.
type ConflictResult struct {
	Conflict bool              `json:"conflict"`
	With     *model.BookingRef `json:"with,omitempty"`
	Break    *model.Break      `json:"break,omitempty"`
}

type checkOptions struct {
	policy *model.WorkingHoursPolicy
}

// CheckOption tunes CheckConflict.
type CheckOption func(*checkOptions)

// WithBreaks makes overlap with the policy's non-inert breaks a conflict.
func WithBreaks(policy model.WorkingHoursPolicy) CheckOption {
	return func(o *checkOptions) {
		o.policy = &policy
	}
}

// CheckConflict tests [start, start+duration) against every active booking
// on date except excludeID, in stored order, and reports the first overlap.
// Abutting intervals do not conflict. An excludeID that matches nothing is
// ignored.
func CheckConflict(
	date model.Date,
	start model.Clock,
	durationMinutes int,
	bookings []model.Booking,
	excludeID string,
	opts ...CheckOption,
) (ConflictResult, error) {
	if durationMinutes <= 0 {
		return ConflictResult{}, fmt.Errorf("%w: %d", model.ErrInvalidDuration, durationMinutes)
	}

	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}

	proposal := model.NewInterval(start, durationMinutes)

	for i := range bookings {
		b := &bookings[i]
		if !occupies(b, date, excludeID) {
			continue
		}
		if proposal.Overlaps(b.Interval()) {
			return ConflictResult{Conflict: true, With: b.Ref()}, nil
		}
	}

	if o.policy != nil {
		for _, br := range o.policy.ActiveBreaks() {
			if proposal.Overlaps(br.Interval()) {
				found := br
				return ConflictResult{Conflict: true, Break: &found}, nil
			}
		}
	}

	return ConflictResult{}, nil
}
