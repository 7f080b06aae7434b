package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bronivik/bronivik_schedule/internal/metrics"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/reconcile"
)

const (
	pollJobName    = "schedule_refresh"
	refreshTimeout = 30 * time.Second

	// Bounds used when the store tracks every date.
	minDate model.Date = "0001-01-01"
	maxDate model.Date = "9999-12-31"
)

// Loader reads the records the store mirrors.
type Loader interface {
	ListBookings(ctx context.Context, from, to model.Date) ([]model.Booking, error)
	ListOverrides(ctx context.Context, from, to model.Date) ([]model.WorkingHoursPolicy, error)
}

// WindowFunc returns the dates of interest as of now.
type WindowFunc func(now time.Time) (from, to model.Date)

type PollerOptions struct {
	Interval time.Duration
	// Active gates the periodic refresh; nil means always refresh.
	Active func() bool
	// Window, when set, slides the store window on every tick.
	Window WindowFunc
	Logger *zerolog.Logger
}

// Poller refreshes the store from storage on a fixed interval while the
// event source is down.
type Poller struct {
	loader    Loader
	store     *reconcile.Store
	active    func() bool
	window    WindowFunc
	interval  time.Duration
	scheduler gocron.Scheduler
	logger    *zerolog.Logger
}

func NewPoller(loader Loader, store *reconcile.Store, opts PollerOptions) (*Poller, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %s", opts.Interval)
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	p := &Poller{
		loader:   loader,
		store:    store,
		active:   opts.Active,
		window:   opts.Window,
		interval: opts.Interval,
		logger:   opts.Logger,
	}

	logger := opts.Logger
	sched, err := gocron.NewScheduler(
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					logger.Error().
						Str("job_id", jobID.String()).
						Str("job_name", jobName).
						Interface("panic", recoverData).
						Msg("poll job panicked")
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	p.scheduler = sched
	return p, nil
}

// Run starts the periodic job and blocks until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() { p.tick(ctx) }),
		gocron.WithName(pollJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("register %s job: %w", pollJobName, err)
	}

	p.logger.Info().Dur("interval", p.interval).Msg("poller started")
	p.scheduler.Start()
	<-ctx.Done()

	if err := p.scheduler.Shutdown(); err != nil {
		p.logger.Warn().Err(err).Msg("poller shutdown")
	}
	return ctx.Err()
}

func (p *Poller) tick(ctx context.Context) {
	if p.window != nil {
		from, to := p.window(time.Now())
		if cur, curTo := p.store.Window(); cur != from || curTo != to {
			p.store.SetWindow(from, to)
			p.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("store window moved")
			// The newly covered dates have to be loaded.
			p.refreshLogged(ctx)
			return
		}
	}
	if p.active != nil && !p.active() {
		return
	}
	p.refreshLogged(ctx)
}

func (p *Poller) refreshLogged(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error().Err(err).Msg("poll refresh failed")
	}
}

// Refresh replaces the store contents with what storage holds for the
// store window and asks for a recompute.
func (p *Poller) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	from, to := p.store.Window()
	if from == "" {
		from = minDate
	}
	if to == "" {
		to = maxDate
	}

	bookings, err := p.loader.ListBookings(ctx, from, to)
	if err != nil {
		return fmt.Errorf("refresh bookings: %w", err)
	}
	overrides, err := p.loader.ListOverrides(ctx, from, to)
	if err != nil {
		return fmt.Errorf("refresh overrides: %w", err)
	}

	p.store.ReplaceAll(bookings, overrides)
	p.store.RequestRecompute()
	metrics.IncPollRefresh()
	p.logger.Debug().Int("bookings", len(bookings)).Int("overrides", len(overrides)).Msg("store refreshed from storage")
	return nil
}
