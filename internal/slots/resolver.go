package slots

import "bronivik/bronivik_schedule/internal/model"

// Resolver merges the default weekly pattern with per-date overrides.
type Resolver struct {
	Pattern   model.DefaultPattern
	Overrides map[model.Date]model.WorkingHoursPolicy
}

// NewResolver creates a resolver over a pattern and an override set.
func NewResolver(pattern model.DefaultPattern, overrides map[model.Date]model.WorkingHoursPolicy) *Resolver {
	return &Resolver{Pattern: pattern, Overrides: overrides}
}

// Resolve returns the effective policy for a date. An override wins verbatim;
// otherwise the policy is synthesized from the pattern with no breaks.
func (r *Resolver) Resolve(date model.Date) model.WorkingHoursPolicy {
	if o, ok := r.Overrides[date]; ok {
		return o
	}

	return model.WorkingHoursPolicy{
		Date:         date,
		IsWorkingDay: r.Pattern.IsWorkingWeekday(date.Weekday()),
		StartTime:    r.Pattern.StartTime,
		EndTime:      r.Pattern.EndTime,
	}
}
