package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bronivik/bronivik_schedule/internal/events"
	"bronivik/bronivik_schedule/internal/metrics"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

const DefaultDebounceWindow = 100 * time.Millisecond

var ErrEmptyPayload = errors.New("event carries no entity")

type Options struct {
	// DebounceWindow bounds how long a burst of events is collected before
	// one recompute runs.
	DebounceWindow time.Duration
	// Compute derives the published view. Defaults to AggregateWatches with
	// the canonical step and no watches.
	Compute ComputeFunc
	Logger  *zerolog.Logger
}

// Store is the local materialized view of bookings and working-hours
// overrides. Merges are idempotent and keyed by booking id and override date.
type Store struct {
	mu        sync.RWMutex
	bookings  map[string]model.Booking
	order     []string
	overrides map[model.Date]model.WorkingHoursPolicy
	pattern   model.DefaultPattern
	from, to  model.Date
	revision  uint64

	generation atomic.Uint64

	pubMu     sync.Mutex
	view      *View
	listeners map[int]func(View)
	nextID    int

	debounce time.Duration
	compute  ComputeFunc
	kick     chan struct{}
	logger   *zerolog.Logger
}

func NewStore(pattern model.DefaultPattern, opts Options) *Store {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.Compute == nil {
		opts.Compute = AggregateWatches(slots.DefaultStepMinutes, nil)
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Store{
		bookings:  make(map[string]model.Booking),
		overrides: make(map[model.Date]model.WorkingHoursPolicy),
		pattern:   pattern,
		listeners: make(map[int]func(View)),
		debounce:  opts.DebounceWindow,
		compute:   opts.Compute,
		kick:      make(chan struct{}, 1),
		logger:    opts.Logger,
	}
}

// SetWindow limits the dates the store tracks. Entries outside the new
// window are evicted. Empty bounds mean unbounded.
func (s *Store) SetWindow(from, to model.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.from, s.to = from, to
	kept := s.order[:0]
	for _, id := range s.order {
		if windowCovers(from, to, s.bookings[id].Date) {
			kept = append(kept, id)
			continue
		}
		delete(s.bookings, id)
	}
	s.order = kept
	for d := range s.overrides {
		if !windowCovers(from, to, d) {
			delete(s.overrides, d)
		}
	}
	s.revision++
}

func (s *Store) Window() (from, to model.Date) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.from, s.to
}

// ApplyBookingAdded inserts the booking or replaces the copy with the same id.
func (s *Store) ApplyBookingAdded(b model.Booking) {
	s.upsertBooking(b)
}

// ApplyBookingUpdated replaces by id; an unknown id is inserted.
func (s *Store) ApplyBookingUpdated(b model.Booking) {
	s.upsertBooking(b)
}

func (s *Store) upsertBooking(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !windowCovers(s.from, s.to, b.Date) {
		// The booking moved out of the window.
		s.removeBookingLocked(b.ID)
		return
	}
	if _, ok := s.bookings[b.ID]; !ok {
		s.order = append(s.order, b.ID)
	}
	s.bookings[b.ID] = b
	s.revision++
}

// ApplyBookingDeleted removes the booking; unknown ids are a no-op.
func (s *Store) ApplyBookingDeleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeBookingLocked(id)
}

func (s *Store) removeBookingLocked(id string) {
	if _, ok := s.bookings[id]; !ok {
		return
	}
	delete(s.bookings, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.revision++
}

func (s *Store) ApplyWorkingHoursUpserted(p model.WorkingHoursPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !windowCovers(s.from, s.to, p.Date) {
		if _, ok := s.overrides[p.Date]; ok {
			delete(s.overrides, p.Date)
			s.revision++
		}
		return
	}
	s.overrides[p.Date] = p
	s.revision++
}

func (s *Store) ApplyWorkingHoursDeleted(date model.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.overrides[date]; !ok {
		return
	}
	delete(s.overrides, date)
	s.revision++
}

func (s *Store) SetDefaultPattern(p model.DefaultPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pattern = p
	s.revision++
}

// ReplaceAll swaps in a full refresh from storage. Bookings keep the order
// they are given in.
func (s *Store) ReplaceAll(bookings []model.Booking, overrides []model.WorkingHoursPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bookings = make(map[string]model.Booking, len(bookings))
	s.order = make([]string, 0, len(bookings))
	for _, b := range bookings {
		if !windowCovers(s.from, s.to, b.Date) {
			continue
		}
		if _, ok := s.bookings[b.ID]; !ok {
			s.order = append(s.order, b.ID)
		}
		s.bookings[b.ID] = b
	}

	s.overrides = make(map[model.Date]model.WorkingHoursPolicy, len(overrides))
	for _, p := range overrides {
		if windowCovers(s.from, s.to, p.Date) {
			s.overrides[p.Date] = p
		}
	}
	s.revision++
}

// Apply merges a typed event.
func (s *Store) Apply(e events.Event) error {
	switch e.Type {
	case events.BookingAdded, events.BookingUpdated:
		if e.Booking == nil {
			return fmt.Errorf("%s: %w", e.Type, ErrEmptyPayload)
		}
		if e.Type == events.BookingAdded {
			s.ApplyBookingAdded(*e.Booking)
		} else {
			s.ApplyBookingUpdated(*e.Booking)
		}
	case events.BookingDeleted:
		s.ApplyBookingDeleted(e.BookingID)
	case events.WorkingHoursAdded, events.WorkingHoursUpdated:
		if e.Policy == nil {
			return fmt.Errorf("%s: %w", e.Type, ErrEmptyPayload)
		}
		s.ApplyWorkingHoursUpserted(*e.Policy)
	case events.WorkingHoursDeleted:
		s.ApplyWorkingHoursDeleted(e.Date)
	default:
		return fmt.Errorf("%w: %q", events.ErrUnknownType, e.Type)
	}

	metrics.IncEventApplied(string(e.Type))
	return nil
}

// Snapshot returns an immutable copy tagged with the current generation.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(s.generation.Load())
}

func (s *Store) snapshotLocked(gen uint64) Snapshot {
	bookings := make([]model.Booking, 0, len(s.order))
	for _, id := range s.order {
		bookings = append(bookings, s.bookings[id])
	}
	return Snapshot{
		Generation: gen,
		Revision:   s.revision,
		Pattern:    s.pattern,
		Bookings:   bookings,
		Overrides:  maps.Clone(s.overrides),
		From:       s.from,
		To:         s.to,
	}
}

func (s *Store) Generation() uint64 {
	return s.generation.Load()
}

func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// Subscribe registers a listener for published views and returns a func
// that removes it.
func (s *Store) Subscribe(fn func(View)) func() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.pubMu.Lock()
		defer s.pubMu.Unlock()
		delete(s.listeners, id)
	}
}

// Latest returns the last published view.
func (s *Store) Latest() (View, bool) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.view == nil {
		return View{}, false
	}
	return *s.view, true
}

// Recompute starts a new generation and computes over the current snapshot.
// The result is published only if no newer generation started meanwhile;
// otherwise it is dropped and published reports false.
func (s *Store) Recompute(ctx context.Context) (view View, published bool, err error) {
	s.mu.RLock()
	gen := s.generation.Add(1)
	snap := s.snapshotLocked(gen)
	s.mu.RUnlock()

	metrics.IncRecompute()
	started := time.Now()
	view, err = s.compute(ctx, snap)
	metrics.ObserveRecompute(time.Since(started))
	if err != nil {
		return View{}, false, fmt.Errorf("recompute generation %d: %w", gen, err)
	}
	view.Generation = gen
	view.Revision = snap.Revision
	if view.ComputedAt.IsZero() {
		view.ComputedAt = time.Now()
	}

	s.pubMu.Lock()
	if s.generation.Load() != gen {
		s.pubMu.Unlock()
		metrics.IncRecomputeStale()
		s.logger.Debug().Uint64("generation", gen).Msg("dropping stale recompute")
		return View{}, false, nil
	}
	s.view = &view
	listeners := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.pubMu.Unlock()

	// Listeners may read the store or unsubscribe.
	for _, fn := range listeners {
		fn(view)
	}
	return view, true, nil
}

// RequestRecompute asks a running intake loop for a recompute.
func (s *Store) RequestRecompute() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run applies events from in as they arrive and coalesces everything that
// lands within one debounce window into a single recompute. Recomputes run
// off the intake goroutine; stale ones are dropped by generation.
func (s *Store) Run(ctx context.Context, in <-chan events.Event) error {
	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	var (
		pending bool
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	schedule := func() {
		if pending {
			return
		}
		pending = true
		timer.Reset(s.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case e, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			if err := s.Apply(e); err != nil {
				s.logger.Warn().Err(err).Str("event_id", e.ID).Msg("event not applied")
				continue
			}
			s.logger.Debug().Str("type", string(e.Type)).Str("event_id", e.ID).Msg("event applied")
			schedule()

		case <-s.kick:
			schedule()

		case <-timer.C:
			pending = false
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := s.Recompute(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn().Err(err).Msg("recompute failed, retrying")
					s.RequestRecompute()
				}
			}()
		}
	}
}
