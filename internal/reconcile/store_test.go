package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bronivik/bronivik_schedule/internal/events"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

func booking(id string, date model.Date, at string, status model.Status) model.Booking {
	return model.Booking{ID: id, Date: date, Time: model.MustClock(at), DurationMinutes: 30, Status: status}
}

func newStore(opts Options) *Store {
	return NewStore(model.DefaultWorkingPattern(), opts)
}

func ids(snap Snapshot) []string {
	out := make([]string, 0, len(snap.Bookings))
	for _, b := range snap.Bookings {
		out = append(out, b.ID)
	}
	return out
}

func TestStore_BookingAddedIsIdempotent(t *testing.T) {
	s := newStore(Options{})
	b := booking("a", "2026-01-15", "10:00", model.StatusConfirmed)

	s.ApplyBookingAdded(b)
	once := s.Snapshot()
	s.ApplyBookingAdded(b)
	twice := s.Snapshot()

	assert.Equal(t, once.Bookings, twice.Bookings)
	assert.Equal(t, once.Overrides, twice.Overrides)
}

func TestStore_OrderTolerance(t *testing.T) {
	s := newStore(Options{})

	// Update for an unknown id arrives before the add.
	s.ApplyBookingUpdated(booking("a", "2026-01-15", "11:00", model.StatusPending))
	s.ApplyBookingAdded(booking("b", "2026-01-15", "12:00", model.StatusPending))
	s.ApplyBookingAdded(booking("a", "2026-01-15", "10:00", model.StatusConfirmed))

	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b"}, ids(snap), "replacing keeps the stored position")
	got, ok := snap.Booking("a")
	require.True(t, ok)
	assert.Equal(t, model.MustClock("10:00"), got.Time)

	s.ApplyBookingDeleted("missing")
	s.ApplyBookingDeleted("a")
	s.ApplyBookingDeleted("a")
	assert.Equal(t, []string{"b"}, ids(s.Snapshot()))
}

func TestStore_WorkingHours(t *testing.T) {
	s := newStore(Options{})
	p := model.WorkingHoursPolicy{Date: "2026-01-15", IsWorkingDay: false, Notes: "holiday"}

	s.ApplyWorkingHoursUpserted(p)
	s.ApplyWorkingHoursUpserted(p)
	assert.Equal(t, p, s.Snapshot().Overrides["2026-01-15"])
	assert.False(t, s.Snapshot().Resolver().Resolve("2026-01-15").IsWorkingDay)

	rev := s.Revision()
	s.ApplyWorkingHoursDeleted("2026-01-16")
	assert.Equal(t, rev, s.Revision(), "deleting an unknown date changes nothing")

	s.ApplyWorkingHoursDeleted("2026-01-15")
	assert.Empty(t, s.Snapshot().Overrides)
	assert.True(t, s.Snapshot().Resolver().Resolve("2026-01-15").IsWorkingDay)
}

func TestStore_Window(t *testing.T) {
	s := newStore(Options{})
	s.ApplyBookingAdded(booking("jan", "2026-01-15", "10:00", model.StatusPending))
	s.ApplyBookingAdded(booking("feb", "2026-02-15", "10:00", model.StatusPending))
	s.ApplyWorkingHoursUpserted(model.WorkingHoursPolicy{Date: "2026-02-02"})

	s.SetWindow("2026-01-01", "2026-01-31")
	snap := s.Snapshot()
	assert.Equal(t, []string{"jan"}, ids(snap))
	assert.Empty(t, snap.Overrides)
	assert.True(t, snap.Covers("2026-01-31"))
	assert.False(t, snap.Covers("2026-02-01"))

	s.ApplyBookingAdded(booking("mar", "2026-03-01", "10:00", model.StatusPending))
	assert.Equal(t, []string{"jan"}, ids(s.Snapshot()))

	// Moving a booking out of the window drops the local copy.
	s.ApplyBookingUpdated(booking("jan", "2026-02-10", "10:00", model.StatusPending))
	assert.Empty(t, s.Snapshot().Bookings)
}

func TestStore_ReplaceAll(t *testing.T) {
	s := newStore(Options{})
	s.ApplyBookingAdded(booking("stale", "2026-01-15", "10:00", model.StatusPending))

	s.ReplaceAll(
		[]model.Booking{
			booking("x", "2026-01-15", "09:00", model.StatusPending),
			booking("y", "2026-01-16", "09:00", model.StatusCancelled),
		},
		[]model.WorkingHoursPolicy{{Date: "2026-01-17"}},
	)

	snap := s.Snapshot()
	assert.Equal(t, []string{"x", "y"}, ids(snap))
	assert.Len(t, snap.Overrides, 1)
	assert.Len(t, snap.BookingsOn("2026-01-15"), 1)
}

func TestStore_Apply(t *testing.T) {
	s := newStore(Options{})
	b := booking("a", "2026-01-15", "10:00", model.StatusPending)

	require.NoError(t, s.Apply(events.NewBookingEvent(events.BookingAdded, b)))
	require.NoError(t, s.Apply(events.NewWorkingHoursEvent(events.WorkingHoursUpdated, model.WorkingHoursPolicy{Date: "2026-01-16"})))
	assert.Len(t, s.Snapshot().Bookings, 1)
	assert.Len(t, s.Snapshot().Overrides, 1)

	require.NoError(t, s.Apply(events.NewBookingDeleted("a")))
	require.NoError(t, s.Apply(events.NewWorkingHoursDeleted("2026-01-16")))
	assert.Empty(t, s.Snapshot().Bookings)
	assert.Empty(t, s.Snapshot().Overrides)

	assert.ErrorIs(t, s.Apply(events.Event{Type: events.BookingAdded}), ErrEmptyPayload)
	assert.ErrorIs(t, s.Apply(events.Event{Type: events.WorkingHoursAdded}), ErrEmptyPayload)
	assert.ErrorIs(t, s.Apply(events.Event{Type: "other"}), events.ErrUnknownType)
}

func TestStore_RecomputePublishes(t *testing.T) {
	watch := Watch{Month: "2026-01", DurationMinutes: 30}
	s := newStore(Options{Compute: AggregateWatches(slots.DefaultStepMinutes, []Watch{watch})})
	s.ApplyBookingAdded(booking("a", "2026-01-15", "09:00", model.StatusConfirmed))

	var seen []uint64
	unsubscribe := s.Subscribe(func(v View) { seen = append(seen, v.Generation) })

	view, published, err := s.Recompute(context.Background())
	require.NoError(t, err)
	require.True(t, published)
	assert.Equal(t, uint64(1), view.Generation)
	assert.Equal(t, s.Revision(), view.Revision)

	days := view.Months[watch]
	assert.Len(t, days, 31)
	assert.Equal(t, slots.DayNonWorking, days["2026-01-17"].Status)
	assert.NotContains(t, days["2026-01-15"].Slots, "09:00")
	assert.Contains(t, days["2026-01-15"].Slots, "09:30")

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest.Generation)

	unsubscribe()
	_, _, err = s.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, seen)
}

func TestStore_StaleRecomputeIsDropped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	compute := func(ctx context.Context, snap Snapshot) (View, error) {
		if snap.Generation == 1 {
			close(started)
			<-release
		}
		return View{}, nil
	}
	s := newStore(Options{Compute: compute})

	type result struct {
		view      View
		published bool
	}
	first := make(chan result, 1)
	go func() {
		v, ok, err := s.Recompute(context.Background())
		assert.NoError(t, err)
		first <- result{v, ok}
	}()
	<-started

	second, published, err := s.Recompute(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, uint64(2), second.Generation)

	close(release)
	r := <-first
	assert.False(t, r.published)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2), latest.Generation)
}

func TestStore_ListenerMayReadAndUnsubscribe(t *testing.T) {
	s := newStore(Options{})

	var (
		seen        []uint64
		unsubscribe func()
	)
	unsubscribe = s.Subscribe(func(v View) {
		latest, ok := s.Latest()
		if assert.True(t, ok) {
			seen = append(seen, latest.Generation)
		}
		unsubscribe()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, published, err := s.Recompute(context.Background())
		assert.NoError(t, err)
		assert.True(t, published)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recompute blocked on its listener")
	}

	_, _, err := s.Recompute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, seen)
}

func TestStore_RunRetriesFailedRecompute(t *testing.T) {
	var computes atomic.Int32
	s := newStore(Options{
		DebounceWindow: 10 * time.Millisecond,
		Compute: func(context.Context, Snapshot) (View, error) {
			if computes.Add(1) == 1 {
				return View{}, errors.New("transient")
			}
			return View{}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan events.Event, 1)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, in) }()

	in <- events.NewBookingEvent(events.BookingAdded, booking("a", "2026-01-15", "09:00", model.StatusPending))

	require.Eventually(t, func() bool {
		_, ok := s.Latest()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, computes.Load(), int32(2))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStore_RunCoalescesBursts(t *testing.T) {
	var computes atomic.Int32
	s := newStore(Options{
		DebounceWindow: 50 * time.Millisecond,
		Compute: func(context.Context, Snapshot) (View, error) {
			computes.Add(1)
			return View{}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan events.Event, 8)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, in) }()

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		b := booking(id, "2026-01-15", "09:00", model.StatusPending)
		b.Time = b.Time.Add(30 * i)
		in <- events.NewBookingEvent(events.BookingAdded, b)
	}

	require.Eventually(t, func() bool { return computes.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return computes.Load() > 1 }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Len(t, s.Snapshot().Bookings, 5)

	s.RequestRecompute()
	require.Eventually(t, func() bool { return computes.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestStore_RunSkipsInvalidEvents(t *testing.T) {
	var computes atomic.Int32
	s := newStore(Options{
		DebounceWindow: 10 * time.Millisecond,
		Compute: func(context.Context, Snapshot) (View, error) {
			computes.Add(1)
			return View{}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan events.Event, 1)
	go func() { _ = s.Run(ctx, in) }()

	in <- events.Event{Type: events.BookingAdded}
	assert.Never(t, func() bool { return computes.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestMonthWindowAndWatches(t *testing.T) {
	from, to := MonthWindow(time.Date(2026, 1, 20, 15, 0, 0, 0, time.UTC), 2)
	assert.Equal(t, model.Date("2026-01-01"), from)
	assert.Equal(t, model.Date("2026-02-28"), to)

	watches := WatchesFor(from, to, []int{30, 60})
	assert.Equal(t, []Watch{
		{Month: "2026-01", DurationMinutes: 30},
		{Month: "2026-01", DurationMinutes: 60},
		{Month: "2026-02", DurationMinutes: 30},
		{Month: "2026-02", DurationMinutes: 60},
	}, watches)

	assert.Len(t, WatchesFor("2026-01-31", "2026-03-01", []int{15}), 3)
}
