package intake

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bronivik/bronivik_schedule/internal/events"
	"bronivik/bronivik_schedule/internal/metrics"
)

const DefaultRetryInterval = 2 * time.Second

var errSourceClosed = errors.New("event source stopped")

// Supervisor keeps an event source running. While the source is down it
// reports degraded so the poller takes over.
type Supervisor struct {
	source    events.Source
	out       chan<- events.Event
	limiter   *rate.Limiter
	onRecover func(ctx context.Context)
	logger    *zerolog.Logger

	degraded atomic.Bool
	started  atomic.Bool
}

type SupervisorOptions struct {
	// RetryInterval is the minimum gap between reconnect attempts.
	RetryInterval time.Duration
	// OnRecover runs after the source comes back, to catch up on what was
	// published while it was down.
	OnRecover func(ctx context.Context)
	Logger    *zerolog.Logger
}

func NewSupervisor(source events.Source, out chan<- events.Event, opts SupervisorOptions) *Supervisor {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Supervisor{
		source:    source,
		out:       out,
		limiter:   rate.NewLimiter(rate.Every(opts.RetryInterval), 1),
		onRecover: opts.OnRecover,
		logger:    opts.Logger,
	}
}

// Degraded reports whether the source is currently down.
func (s *Supervisor) Degraded() bool {
	return s.degraded.Load()
}

// Run blocks until ctx is done, restarting the source whenever it fails.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		err := s.source.Run(ctx, s.out, func() { s.ready(ctx) })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			err = errSourceClosed
		}
		s.setDegraded(true)
		s.logger.Warn().Err(err).Msg("event source down, falling back to polling")
	}
}

func (s *Supervisor) ready(ctx context.Context) {
	first := s.started.CompareAndSwap(false, true)
	wasDegraded := s.degraded.Swap(false)
	metrics.SetIntakeDegraded(false)

	switch {
	case wasDegraded:
		s.logger.Info().Bool("first_connect", first).Msg("event source recovered")
		if s.onRecover != nil {
			s.onRecover(ctx)
		}
	case first:
		s.logger.Info().Msg("event source connected")
	}
}

func (s *Supervisor) setDegraded(v bool) {
	s.degraded.Store(v)
	metrics.SetIntakeDegraded(v)
}
