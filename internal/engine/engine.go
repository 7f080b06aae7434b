package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/reconcile"
	"bronivik/bronivik_schedule/internal/slots"
)

// Loader reads raw records for dates the store does not track.
type Loader interface {
	ListBookings(ctx context.Context, from, to model.Date) ([]model.Booking, error)
	ListOverrides(ctx context.Context, from, to model.Date) ([]model.WorkingHoursPolicy, error)
}

// MonthCache stores month summaries keyed by store revision.
type MonthCache interface {
	Get(ctx context.Context, month string, duration int, revision uint64) (map[model.Date]slots.DaySummary, bool, error)
	Set(ctx context.Context, month string, duration int, revision uint64, days map[model.Date]slots.DaySummary) error
}

// Engine answers availability questions over the reconciliation store.
type Engine struct {
	store  *reconcile.Store
	loader Loader
	cache  MonthCache
	step   int
	logger *zerolog.Logger
}

// New creates an engine. loader and cache are optional.
func New(store *reconcile.Store, loader Loader, cache MonthCache, stepMinutes int, logger *zerolog.Logger) *Engine {
	if stepMinutes <= 0 {
		stepMinutes = slots.DefaultStepMinutes
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Engine{store: store, loader: loader, cache: cache, step: stepMinutes, logger: logger}
}

// dayData is the input for one date: the snapshot when it covers the date,
// storage otherwise.
type dayData struct {
	resolver  *slots.Resolver
	bookings  []model.Booking
	fromStore bool
	revision  uint64
}

func (e *Engine) rangeData(ctx context.Context, from, to model.Date) (dayData, error) {
	snap := e.store.Snapshot()
	if e.loader == nil || (snap.Covers(from) && snap.Covers(to)) {
		return dayData{
			resolver:  snap.Resolver(),
			bookings:  snap.Bookings,
			fromStore: true,
			revision:  snap.Revision,
		}, nil
	}

	bookings, err := e.loader.ListBookings(ctx, from, to)
	if err != nil {
		return dayData{}, fmt.Errorf("load bookings: %w", err)
	}
	overrides, err := e.loader.ListOverrides(ctx, from, to)
	if err != nil {
		return dayData{}, fmt.Errorf("load overrides: %w", err)
	}
	byDate := make(map[model.Date]model.WorkingHoursPolicy, len(overrides))
	for _, o := range overrides {
		byDate[o.Date] = o
	}
	return dayData{resolver: slots.NewResolver(snap.Pattern, byDate), bookings: bookings}, nil
}

func parseDuration(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: %d", model.ErrInvalidDuration, minutes)
	}
	return nil
}

// ComputeAvailableSlots lists free start times on date, ascending "HH:MM".
func (e *Engine) ComputeAvailableSlots(ctx context.Context, date string, durationMinutes int, excludeID string) ([]string, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}
	if err := parseDuration(durationMinutes); err != nil {
		return nil, err
	}

	data, err := e.rangeData(ctx, d, d)
	if err != nil {
		return nil, err
	}
	free, err := slots.NewGenerator(data.resolver, e.step).Generate(d, durationMinutes, data.bookings, excludeID)
	if err != nil {
		return nil, err
	}
	return slots.Strings(free), nil
}

// ComputeMonthAvailability summarizes every day of a "YYYY-MM" month.
// The published view is used when it matches the store revision, then the
// cache, then a fresh aggregation.
func (e *Engine) ComputeMonthAvailability(ctx context.Context, yearMonth string, durationMinutes int) (map[model.Date]slots.DaySummary, error) {
	first, last, err := model.ParseMonth(yearMonth)
	if err != nil {
		return nil, err
	}
	if err := parseDuration(durationMinutes); err != nil {
		return nil, err
	}

	data, err := e.rangeData(ctx, first, last)
	if err != nil {
		return nil, err
	}
	revision := data.revision

	if data.fromStore {
		if view, ok := e.store.Latest(); ok && view.Revision == revision {
			if days, ok := view.Months[reconcile.Watch{Month: yearMonth, DurationMinutes: durationMinutes}]; ok {
				return cloneDays(days), nil
			}
		}
		if e.cache != nil {
			days, ok, err := e.cache.Get(ctx, yearMonth, durationMinutes, revision)
			if err != nil {
				e.logger.Warn().Err(err).Str("month", yearMonth).Msg("availability cache read failed")
			} else if ok {
				return days, nil
			}
		}
	}

	gen := slots.NewGenerator(data.resolver, e.step)
	days, err := slots.Aggregate(gen, first, last, durationMinutes, slots.GroupByDate(data.bookings))
	if err != nil {
		return nil, err
	}

	if data.fromStore && e.cache != nil {
		if err := e.cache.Set(ctx, yearMonth, durationMinutes, revision, days); err != nil {
			e.logger.Warn().Err(err).Str("month", yearMonth).Msg("availability cache write failed")
		}
	}
	return days, nil
}

// cloneDays copies a published month so callers cannot mutate the shared
// view.
func cloneDays(days map[model.Date]slots.DaySummary) map[model.Date]slots.DaySummary {
	out := make(map[model.Date]slots.DaySummary, len(days))
	for d, sum := range days {
		sum.Slots = slices.Clone(sum.Slots)
		out[d] = sum
	}
	return out
}

// CheckConflict tests a proposed booking against active bookings on date.
func (e *Engine) CheckConflict(ctx context.Context, date, start string, durationMinutes int, excludeID string) (slots.ConflictResult, error) {
	return e.checkConflict(ctx, date, start, durationMinutes, excludeID, false)
}

// CheckConflictWithBreaks also reports overlap with the day's breaks.
func (e *Engine) CheckConflictWithBreaks(ctx context.Context, date, start string, durationMinutes int, excludeID string) (slots.ConflictResult, error) {
	return e.checkConflict(ctx, date, start, durationMinutes, excludeID, true)
}

func (e *Engine) checkConflict(ctx context.Context, date, start string, durationMinutes int, excludeID string, breaks bool) (slots.ConflictResult, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return slots.ConflictResult{}, err
	}
	at, err := model.ParseClock(start)
	if err != nil {
		return slots.ConflictResult{}, err
	}
	if err := parseDuration(durationMinutes); err != nil {
		return slots.ConflictResult{}, err
	}

	data, err := e.rangeData(ctx, d, d)
	if err != nil {
		return slots.ConflictResult{}, err
	}
	var opts []slots.CheckOption
	if breaks {
		opts = append(opts, slots.WithBreaks(data.resolver.Resolve(d)))
	}
	return slots.CheckConflict(d, at, durationMinutes, data.bookings, excludeID, opts...)
}

// Policy returns the effective working hours of date.
func (e *Engine) Policy(ctx context.Context, date string) (model.WorkingHoursPolicy, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return model.WorkingHoursPolicy{}, err
	}
	data, err := e.rangeData(ctx, d, d)
	if err != nil {
		return model.WorkingHoursPolicy{}, err
	}
	return data.resolver.Resolve(d), nil
}
