package booking

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bronivik/bronivik_schedule/internal/db"
	"bronivik/bronivik_schedule/internal/engine"
	"bronivik/bronivik_schedule/internal/events"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/reconcile"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) CreateBooking(ctx context.Context, b *model.Booking) error {
	args := m.Called(ctx, b)
	if args.Error(0) == nil && b.ID == "" {
		b.ID = "generated"
	}
	return args.Error(0)
}

func (m *mockRepo) UpdateBooking(ctx context.Context, b *model.Booking) error {
	return m.Called(ctx, b).Error(0)
}

func (m *mockRepo) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	b := *args.Get(0).(*model.Booking)
	return &b, args.Error(1)
}

func (m *mockRepo) CancelBooking(ctx context.Context, id string) (*model.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Booking), args.Error(1)
}

func (m *mockRepo) DeleteBooking(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRepo) GetOverride(ctx context.Context, date model.Date) (*model.WorkingHoursPolicy, error) {
	args := m.Called(ctx, date)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WorkingHoursPolicy), args.Error(1)
}

func (m *mockRepo) UpsertOverride(ctx context.Context, p model.WorkingHoursPolicy) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockRepo) DeleteOverride(ctx context.Context, date model.Date) error {
	return m.Called(ctx, date).Error(0)
}

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) GetService(ctx context.Context, id string) (*model.Service, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Service), args.Error(1)
}

type fixture struct {
	svc       *Service
	repo      *mockRepo
	catalog   *mockCatalog
	store     *reconcile.Store
	published []events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store := reconcile.NewStore(model.DefaultWorkingPattern(), reconcile.Options{Logger: &logger})
	store.ApplyWorkingHoursUpserted(model.WorkingHoursPolicy{
		Date:         "2026-01-15",
		IsWorkingDay: true,
		StartTime:    model.MustClock("09:00"),
		EndTime:      model.MustClock("18:00"),
		Breaks:       []model.Break{{StartTime: model.MustClock("12:00"), EndTime: model.MustClock("13:00")}},
	})

	f := &fixture{repo: &mockRepo{}, catalog: &mockCatalog{}, store: store}
	bus := events.NewBus()
	for _, typ := range events.Types {
		bus.Subscribe(typ, func(e events.Event) error {
			f.published = append(f.published, e)
			return nil
		})
	}
	eng := engine.New(store, nil, nil, 0, &logger)
	f.svc = NewService(f.repo, f.catalog, eng, store, bus, &logger)
	return f
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("CreateBooking", ctx, mock.AnythingOfType("*model.Booking")).Return(nil)

	b, err := f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "10:00", DurationMinutes: 45, CustomerName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "generated", b.ID)
	assert.Equal(t, model.StatusPending, b.Status)

	require.Len(t, f.published, 1)
	assert.Equal(t, events.BookingAdded, f.published[0].Type)
	snap := f.store.Snapshot()
	require.Len(t, snap.Bookings, 1, "applied locally")
	assert.Equal(t, "generated", snap.Bookings[0].ID)
}

func TestCreate_ConflictIsRejectedBeforeStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.ApplyBookingAdded(model.Booking{ID: "B", Date: "2026-01-15", Time: model.MustClock("10:00"), DurationMinutes: 45, Status: model.StatusConfirmed})

	_, err := f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "10:30", DurationMinutes: 30})
	require.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "B", ce.Result.With.ID)
	f.repo.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
	assert.Empty(t, f.published)
}

func TestCreate_RespectBreaks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("CreateBooking", ctx, mock.Anything).Return(nil)

	_, err := f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "11:45", DurationMinutes: 30, RespectBreaks: true})
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	require.NotNil(t, ce.Result.Break)

	// Without break awareness an operator may book over lunch.
	_, err = f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "11:45", DurationMinutes: 30})
	assert.NoError(t, err)
}

func TestCreate_StorageRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("CreateBooking", ctx, mock.Anything).Return(db.ErrSlotTaken)

	_, err := f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "10:00", DurationMinutes: 30})
	assert.ErrorIs(t, err, ErrConflict)
	assert.ErrorIs(t, err, db.ErrSlotTaken)
	assert.Empty(t, f.published)
}

func TestCreate_DurationFromService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.On("GetService", ctx, "consult").Return(&model.Service{ID: "consult", DurationMinutes: 40}, nil)
	f.catalog.On("GetService", ctx, "missing").Return(nil, db.ErrNotFound)
	f.repo.On("CreateBooking", ctx, mock.Anything).Return(nil)

	b, err := f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "09:00", ServiceID: "consult", Status: "approved"})
	require.NoError(t, err)
	assert.Equal(t, 40, b.DurationMinutes)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	_, err = f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "15:00", ServiceID: "missing"})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCreate_RejectsMalformedInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"bad date", Request{Date: "2026-02-30", Time: "10:00", DurationMinutes: 30}, model.ErrInvalidDate},
		{"missing date", Request{Time: "10:00", DurationMinutes: 30}, model.ErrInvalidDate},
		{"bad time", Request{Date: "2026-01-15", Time: "9am", DurationMinutes: 30}, model.ErrInvalidClock},
		{"missing time", Request{Date: "2026-01-15", DurationMinutes: 30}, model.ErrInvalidClock},
		{"negative duration", Request{Date: "2026-01-15", Time: "10:00", DurationMinutes: -1}, model.ErrInvalidDuration},
		{"no duration", Request{Date: "2026-01-15", Time: "10:00"}, model.ErrInvalidDuration},
		{"bad status", Request{Date: "2026-01-15", Time: "10:00", DurationMinutes: 30, Status: "maybe"}, model.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	f.repo.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestUpdate_OwnSlotIsNotAConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := model.Booking{ID: "B", Date: "2026-01-15", Time: model.MustClock("10:00"), DurationMinutes: 30, Status: model.StatusPending, CustomerName: "Ann"}
	f.store.ApplyBookingAdded(existing)
	f.repo.On("GetBooking", ctx, "B").Return(&existing, nil)
	f.repo.On("UpdateBooking", ctx, mock.Anything).Return(nil)

	b, err := f.svc.Update(ctx, "B", Request{DurationMinutes: 45, Status: "confirmed"})
	require.NoError(t, err)
	assert.Equal(t, 45, b.DurationMinutes)
	assert.Equal(t, model.StatusConfirmed, b.Status)
	assert.Equal(t, model.MustClock("10:00"), b.Time)
	assert.Equal(t, "Ann", b.CustomerName)

	got, ok := f.store.Snapshot().Booking("B")
	require.True(t, ok)
	assert.Equal(t, 45, got.DurationMinutes)
	require.Len(t, f.published, 1)
	assert.Equal(t, events.BookingUpdated, f.published[0].Type)
}

func TestUpdate_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("GetBooking", ctx, "nope").Return(nil, db.ErrNotFound)

	_, err := f.svc.Update(ctx, "nope", Request{Time: "10:00"})
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestCancel_FreesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := model.Booking{ID: "B", Date: "2026-01-15", Time: model.MustClock("10:00"), DurationMinutes: 45, Status: model.StatusConfirmed}
	f.store.ApplyBookingAdded(b)

	cancelled := b
	cancelled.Status = model.StatusCancelled
	f.repo.On("CancelBooking", ctx, "B").Return(&cancelled, nil)
	f.repo.On("CreateBooking", ctx, mock.Anything).Return(nil)

	_, err := f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "10:00", DurationMinutes: 30})
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.Cancel(ctx, "B")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, Request{Date: "2026-01-15", Time: "10:00", DurationMinutes: 30})
	assert.NoError(t, err)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.ApplyBookingAdded(model.Booking{ID: "B", Date: "2026-01-15", Time: model.MustClock("10:00"), DurationMinutes: 30, Status: model.StatusPending})
	f.repo.On("DeleteBooking", ctx, "B").Return(nil)
	f.repo.On("DeleteBooking", ctx, "gone").Return(db.ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, "B"))
	assert.Empty(t, f.store.Snapshot().Bookings)
	require.Len(t, f.published, 1)
	assert.Equal(t, events.BookingDeleted, f.published[0].Type)

	assert.ErrorIs(t, f.svc.Delete(ctx, "gone"), db.ErrNotFound)
	assert.Len(t, f.published, 1)
}

func TestWorkingHours(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	closed := model.WorkingHoursPolicy{Date: "2026-01-16", IsWorkingDay: false, Notes: "inventory"}

	f.repo.On("GetOverride", ctx, model.Date("2026-01-16")).Return(nil, nil).Once()
	f.repo.On("UpsertOverride", ctx, closed).Return(nil)
	require.NoError(t, f.svc.UpsertWorkingHours(ctx, closed))
	assert.Equal(t, events.WorkingHoursAdded, f.published[0].Type)
	assert.False(t, f.store.Snapshot().Resolver().Resolve("2026-01-16").IsWorkingDay)

	f.repo.On("GetOverride", ctx, model.Date("2026-01-16")).Return(&closed, nil)
	require.NoError(t, f.svc.UpsertWorkingHours(ctx, closed))
	assert.Equal(t, events.WorkingHoursUpdated, f.published[1].Type)

	f.repo.On("DeleteOverride", ctx, model.Date("2026-01-16")).Return(nil)
	require.NoError(t, f.svc.DeleteWorkingHours(ctx, "2026-01-16"))
	assert.Equal(t, events.WorkingHoursDeleted, f.published[2].Type)
	assert.True(t, f.store.Snapshot().Resolver().Resolve("2026-01-16").IsWorkingDay)

	bad := model.WorkingHoursPolicy{Date: "2026-01-17", IsWorkingDay: true, StartTime: model.MustClock("18:00"), EndTime: model.MustClock("09:00")}
	assert.ErrorIs(t, f.svc.UpsertWorkingHours(ctx, bad), model.ErrInvalidPolicy)
}
