package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/reconcile"
	"bronivik/bronivik_schedule/internal/slots"
)

const day = "2026-01-15" // Thursday

type mockLoader struct {
	mock.Mock
}

func (m *mockLoader) ListBookings(ctx context.Context, from, to model.Date) ([]model.Booking, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).([]model.Booking), args.Error(1)
}

func (m *mockLoader) ListOverrides(ctx context.Context, from, to model.Date) ([]model.WorkingHoursPolicy, error) {
	args := m.Called(ctx, from, to)
	return args.Get(0).([]model.WorkingHoursPolicy), args.Error(1)
}

type memCache struct {
	data map[string]map[model.Date]slots.DaySummary
	sets int
}

func key(month string, duration int, revision uint64) string {
	return fmt.Sprintf("%s:%d:%d", month, duration, revision)
}

func (c *memCache) Get(_ context.Context, month string, duration int, revision uint64) (map[model.Date]slots.DaySummary, bool, error) {
	days, ok := c.data[key(month, duration, revision)]
	return days, ok, nil
}

func (c *memCache) Set(_ context.Context, month string, duration int, revision uint64, days map[model.Date]slots.DaySummary) error {
	c.sets++
	c.data[key(month, duration, revision)] = days
	return nil
}

func lunchPolicy() model.WorkingHoursPolicy {
	return model.WorkingHoursPolicy{
		Date:         day,
		IsWorkingDay: true,
		StartTime:    model.MustClock("09:00"),
		EndTime:      model.MustClock("18:00"),
		Breaks:       []model.Break{{StartTime: model.MustClock("12:00"), EndTime: model.MustClock("13:00")}},
	}
}

func booking(id, at string, minutes int, status model.Status) model.Booking {
	return model.Booking{ID: id, Date: day, Time: model.MustClock(at), DurationMinutes: minutes, Status: status}
}

func newEngine(t *testing.T) (*Engine, *reconcile.Store) {
	t.Helper()
	store := reconcile.NewStore(model.DefaultWorkingPattern(), reconcile.Options{})
	store.ApplyWorkingHoursUpserted(lunchPolicy())
	return New(store, nil, nil, 0, nil), store
}

func TestComputeAvailableSlots_LunchBreak(t *testing.T) {
	e, _ := newEngine(t)

	got, err := e.ComputeAvailableSlots(context.Background(), day, 30, "")
	require.NoError(t, err)

	var want []string
	for _, s := range []string{"09:00", "13:00"} {
		end := "11:30"
		if s == "13:00" {
			end = "17:30"
		}
		for c := model.MustClock(s); c <= model.MustClock(end); c = c.Add(15) {
			want = append(want, c.String())
		}
	}
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "12:00")
	assert.NotContains(t, got, "12:30")
}

func TestComputeAvailableSlots_BookingLifecycle(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	b := booking("B", "10:00", 45, model.StatusConfirmed)
	store.ApplyBookingAdded(b)

	got, err := e.ComputeAvailableSlots(ctx, day, 30, "")
	require.NoError(t, err)
	assert.Contains(t, got, "09:30")
	assert.NotContains(t, got, "09:45")
	assert.NotContains(t, got, "10:00")
	assert.Contains(t, got, "10:45")

	// Editing B must not conflict with itself.
	got, err = e.ComputeAvailableSlots(ctx, day, 30, "B")
	require.NoError(t, err)
	assert.Contains(t, got, "10:00")
	res, err := e.CheckConflict(ctx, day, "10:00", 30, "B")
	require.NoError(t, err)
	assert.False(t, res.Conflict)

	res, err = e.CheckConflict(ctx, day, "10:00", 30, "")
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	assert.Equal(t, "B", res.With.ID)

	// Abutting is not a conflict.
	res, err = e.CheckConflict(ctx, day, "10:45", 30, "")
	require.NoError(t, err)
	assert.False(t, res.Conflict)

	b.Status = model.StatusCancelled
	store.ApplyBookingUpdated(b)
	got, err = e.ComputeAvailableSlots(ctx, day, 30, "")
	require.NoError(t, err)
	assert.Contains(t, got, "10:00")
}

func TestComputeAvailableSlots_NonWorkingDay(t *testing.T) {
	e, store := newEngine(t)
	store.ApplyWorkingHoursUpserted(model.WorkingHoursPolicy{Date: "2026-01-16", IsWorkingDay: false})

	for _, d := range []string{"2026-01-16", "2026-01-17", "2026-01-18"} {
		got, err := e.ComputeAvailableSlots(context.Background(), d, 30, "")
		require.NoError(t, err)
		assert.Empty(t, got, d)
	}
}

func TestEngine_RejectsMalformedInput(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	_, err := e.ComputeAvailableSlots(ctx, "15/01/2026", 30, "")
	assert.ErrorIs(t, err, model.ErrInvalidDate)
	_, err = e.ComputeAvailableSlots(ctx, day, 0, "")
	assert.ErrorIs(t, err, model.ErrInvalidDuration)
	_, err = e.CheckConflict(ctx, day, "25:00", 30, "")
	assert.ErrorIs(t, err, model.ErrInvalidClock)
	_, err = e.CheckConflict(ctx, day, "10:00", -5, "")
	assert.ErrorIs(t, err, model.ErrInvalidDuration)
	_, err = e.ComputeMonthAvailability(ctx, "2026-13", 30)
	assert.ErrorIs(t, err, model.ErrInvalidMonth)
}

func TestCheckConflictWithBreaks(t *testing.T) {
	e, _ := newEngine(t)

	res, err := e.CheckConflict(context.Background(), day, "11:45", 30, "")
	require.NoError(t, err)
	assert.False(t, res.Conflict)

	res, err = e.CheckConflictWithBreaks(context.Background(), day, "11:45", 30, "")
	require.NoError(t, err)
	assert.True(t, res.Conflict)
	require.NotNil(t, res.Break)
	assert.Equal(t, model.MustClock("12:00"), res.Break.StartTime)
}

func TestComputeMonthAvailability(t *testing.T) {
	e, store := newEngine(t)
	store.ApplyBookingAdded(booking("B", "09:00", 30, model.StatusConfirmed))

	days, err := e.ComputeMonthAvailability(context.Background(), "2026-01", 30)
	require.NoError(t, err)
	assert.Len(t, days, 31)
	assert.Equal(t, slots.DayNonWorking, days["2026-01-18"].Status)
	assert.Equal(t, slots.DayHasSlots, days[day].Status)
	assert.NotContains(t, days[day].Slots, "09:00")
}

func TestComputeMonthAvailability_UsesPublishedView(t *testing.T) {
	watch := reconcile.Watch{Month: "2026-01", DurationMinutes: 30}
	marker := map[model.Date]slots.DaySummary{"2026-01-01": {Status: slots.DayNoSlots, Slots: []string{}}}
	store := reconcile.NewStore(model.DefaultWorkingPattern(), reconcile.Options{
		Compute: func(context.Context, reconcile.Snapshot) (reconcile.View, error) {
			return reconcile.View{Months: map[reconcile.Watch]map[model.Date]slots.DaySummary{watch: marker}}, nil
		},
	})
	e := New(store, nil, nil, 0, nil)

	_, _, err := store.Recompute(context.Background())
	require.NoError(t, err)

	days, err := e.ComputeMonthAvailability(context.Background(), "2026-01", 30)
	require.NoError(t, err)
	assert.Equal(t, marker, days)

	// A mutation after the recompute makes the view stale.
	store.ApplyBookingAdded(booking("B", "09:00", 30, model.StatusConfirmed))
	days, err = e.ComputeMonthAvailability(context.Background(), "2026-01", 30)
	require.NoError(t, err)
	assert.Len(t, days, 31)
}

func TestComputeMonthAvailability_ViewIsNotShared(t *testing.T) {
	watch := reconcile.Watch{Month: "2026-01", DurationMinutes: 30}
	store := reconcile.NewStore(model.DefaultWorkingPattern(), reconcile.Options{
		Compute: reconcile.AggregateWatches(slots.DefaultStepMinutes, []reconcile.Watch{watch}),
	})
	e := New(store, nil, nil, 0, nil)

	_, _, err := store.Recompute(context.Background())
	require.NoError(t, err)

	days, err := e.ComputeMonthAvailability(context.Background(), "2026-01", 30)
	require.NoError(t, err)
	require.NotEmpty(t, days[day].Slots)
	want := days[day].Slots[0]
	days[day].Slots[0] = "xx:xx"

	again, err := e.ComputeMonthAvailability(context.Background(), "2026-01", 30)
	require.NoError(t, err)
	assert.Equal(t, want, again[day].Slots[0])

	view, ok := store.Latest()
	require.True(t, ok)
	assert.Equal(t, want, view.Months[watch][day].Slots[0])
}

func TestComputeMonthAvailability_Cache(t *testing.T) {
	store := reconcile.NewStore(model.DefaultWorkingPattern(), reconcile.Options{})
	cache := &memCache{data: map[string]map[model.Date]slots.DaySummary{}}
	e := New(store, nil, cache, 0, nil)
	ctx := context.Background()

	first, err := e.ComputeMonthAvailability(ctx, "2026-02", 60)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	second, err := e.ComputeMonthAvailability(ctx, "2026-02", 60)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.sets, "second call is served from cache")

	store.ApplyBookingAdded(model.Booking{ID: "x", Date: "2026-02-02", Time: model.MustClock("09:00"), DurationMinutes: 60, Status: model.StatusPending})
	_, err = e.ComputeMonthAvailability(ctx, "2026-02", 60)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.sets, "a new revision misses the cache")
}

func TestEngine_LoadsOutsideWindow(t *testing.T) {
	store := reconcile.NewStore(model.DefaultWorkingPattern(), reconcile.Options{})
	store.SetWindow("2026-01-01", "2026-01-31")

	loader := &mockLoader{}
	loader.On("ListBookings", mock.Anything, model.Date("2026-03-02"), model.Date("2026-03-02")).
		Return([]model.Booking{{ID: "far", Date: "2026-03-02", Time: model.MustClock("09:00"), DurationMinutes: 60, Status: model.StatusConfirmed}}, nil)
	loader.On("ListOverrides", mock.Anything, model.Date("2026-03-02"), model.Date("2026-03-02")).
		Return([]model.WorkingHoursPolicy{{Date: "2026-03-02", IsWorkingDay: true, StartTime: model.MustClock("09:00"), EndTime: model.MustClock("11:00")}}, nil)

	e := New(store, loader, nil, 0, nil)
	got, err := e.ComputeAvailableSlots(context.Background(), "2026-03-02", 30, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "10:15", "10:30"}, got)
	loader.AssertExpectations(t)

	// Dates inside the window never touch storage.
	_, err = e.ComputeAvailableSlots(context.Background(), "2026-01-15", 30, "")
	require.NoError(t, err)
	loader.AssertNumberOfCalls(t, "ListBookings", 1)
}

func TestPolicy(t *testing.T) {
	e, _ := newEngine(t)
	p, err := e.Policy(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, p.Breaks, 1)

	p, err = e.Policy(context.Background(), "2026-01-17")
	require.NoError(t, err)
	assert.False(t, p.IsWorkingDay)
}
