package reconcile

import (
	"context"
	"fmt"
	"time"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

// Snapshot is an immutable copy of the store. Revision changes on every
// applied mutation; Generation is the last recompute started.
type Snapshot struct {
	Generation uint64
	Revision   uint64
	Pattern    model.DefaultPattern
	Bookings   []model.Booking
	Overrides  map[model.Date]model.WorkingHoursPolicy
	From, To   model.Date
}

func (s Snapshot) Resolver() *slots.Resolver {
	return slots.NewResolver(s.Pattern, s.Overrides)
}

// Covers reports whether date lies inside the window the store tracks.
func (s Snapshot) Covers(date model.Date) bool {
	return windowCovers(s.From, s.To, date)
}

// BookingsOn returns the bookings of one date in stored order.
func (s Snapshot) BookingsOn(date model.Date) []model.Booking {
	var out []model.Booking
	for _, b := range s.Bookings {
		if b.Date == date {
			out = append(out, b)
		}
	}
	return out
}

func (s Snapshot) BookingsByDate() map[model.Date][]model.Booking {
	return slots.GroupByDate(s.Bookings)
}

func (s Snapshot) Booking(id string) (model.Booking, bool) {
	for _, b := range s.Bookings {
		if b.ID == id {
			return b, true
		}
	}
	return model.Booking{}, false
}

func windowCovers(from, to, date model.Date) bool {
	if from == "" && to == "" {
		return true
	}
	if from != "" && date.Before(from) {
		return false
	}
	if to != "" && to.Before(date) {
		return false
	}
	return true
}

// Watch is one (month, duration) pair kept precomputed.
type Watch struct {
	Month           string `json:"month"`
	DurationMinutes int    `json:"duration_minutes"`
}

// View is the published result of a recompute.
type View struct {
	Generation uint64
	Revision   uint64
	Months     map[Watch]map[model.Date]slots.DaySummary
	ComputedAt time.Time
}

// ComputeFunc derives a View from a snapshot.
type ComputeFunc func(ctx context.Context, snap Snapshot) (View, error)

// AggregateWatches returns a ComputeFunc running the range aggregator over
// every watched month and duration.
func AggregateWatches(stepMinutes int, watches []Watch) ComputeFunc {
	return func(ctx context.Context, snap Snapshot) (View, error) {
		gen := slots.NewGenerator(snap.Resolver(), stepMinutes)
		byDate := snap.BookingsByDate()

		view := View{Months: make(map[Watch]map[model.Date]slots.DaySummary, len(watches))}
		for _, w := range watches {
			if err := ctx.Err(); err != nil {
				return View{}, err
			}
			first, last, err := model.ParseMonth(w.Month)
			if err != nil {
				return View{}, err
			}
			days, err := slots.Aggregate(gen, first, last, w.DurationMinutes, byDate)
			if err != nil {
				return View{}, fmt.Errorf("aggregate %s/%d: %w", w.Month, w.DurationMinutes, err)
			}
			view.Months[w] = days
		}
		return view, nil
	}
}

// MonthWindow returns the first and last date of the months months starting
// with the month containing now.
func MonthWindow(now time.Time, months int) (from, to model.Date) {
	if months <= 0 {
		months = 1
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, months, -1)
	return model.DateOf(first), model.DateOf(last)
}

// WatchesFor lists every month in [from, to] crossed with durations.
func WatchesFor(from, to model.Date, durations []int) []Watch {
	var out []Watch
	start := from.Time()
	start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for m := start; !to.Time().Before(m); m = m.AddDate(0, 1, 0) {
		month := model.DateOf(m).Month()
		for _, d := range durations {
			out = append(out, Watch{Month: month, DurationMinutes: d})
		}
	}
	return out
}
