package events

import (
	"context"
	"sync"
	"time"
)

// Handler reacts to an event.
type Handler func(event Event) error

type subscription struct {
	id      uint64
	handler Handler
}

// Bus provides in-process pub/sub for events. It serves single-process
// deployments where there is no external broker.
type Bus struct {
	subscribers map[Type][]subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[Type][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a func
// that removes it.
func (b *Bus) Subscribe(eventType Type, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish notifies subscribers of the event type. Handlers run
// synchronously; the first handler error is returned after all ran.
func (b *Bus) Publish(_ context.Context, event Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var firstErr error
	for _, s := range subs {
		if err := s.handler(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run forwards every event type to out until ctx is done.
func (b *Bus) Run(ctx context.Context, out chan<- Event, ready func()) error {
	forward := func(e Event) error {
		select {
		case out <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	unsubs := make([]func(), 0, len(Types))
	for _, t := range Types {
		unsubs = append(unsubs, b.Subscribe(t, forward))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	if ready != nil {
		ready()
	}

	<-ctx.Done()
	return ctx.Err()
}
