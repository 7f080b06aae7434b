package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bronivik/bronivik_schedule/internal/api"
	"bronivik/bronivik_schedule/internal/booking"
	"bronivik/bronivik_schedule/internal/cache"
	"bronivik/bronivik_schedule/internal/config"
	"bronivik/bronivik_schedule/internal/db"
	"bronivik/bronivik_schedule/internal/engine"
	"bronivik/bronivik_schedule/internal/events"
	"bronivik/bronivik_schedule/internal/intake"
	"bronivik/bronivik_schedule/internal/metrics"
	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/reconcile"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)

	database, err := db.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pattern, err := database.GetDefaultPattern(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load default pattern")
	}

	step := cfg.Engine.StepMinutes
	months := cfg.Engine.WindowMonths
	durations := cfg.Engine.WatchDurations
	window := func(now time.Time) (model.Date, model.Date) {
		return reconcile.MonthWindow(now, months)
	}

	store := reconcile.NewStore(pattern, reconcile.Options{
		DebounceWindow: cfg.Debounce(),
		// Watches follow the window as it slides.
		Compute: func(ctx context.Context, snap reconcile.Snapshot) (reconcile.View, error) {
			return reconcile.AggregateWatches(step, reconcile.WatchesFor(snap.From, snap.To, durations))(ctx, snap)
		},
		Logger: &logger,
	})
	store.SetWindow(window(time.Now()))
	store.Subscribe(func(v reconcile.View) {
		logger.Debug().Uint64("generation", v.Generation).Int("watches", len(v.Months)).Msg("availability view published")
	})

	err = config.WatchSchedule(ctx, cfg.SchedulePath, cfg.PollInterval(),
		func(s *config.Schedule) { applySchedule(ctx, database, store, s, &logger) },
		func(err error) { logger.Error().Err(err).Str("path", cfg.SchedulePath).Msg("schedule reload failed") },
	)
	if err != nil {
		logger.Warn().Err(err).Str("path", cfg.SchedulePath).Msg("schedule file not loaded, using stored pattern")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	publisher, source, closeTransport, err := newTransport(cfg, rdb, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("event transport")
	}
	defer closeTransport()

	var monthCache engine.MonthCache
	if rdb != nil && cfg.CacheTTL() > 0 {
		monthCache = cache.NewRedisCache(rdb, cfg.CacheTTL())
	}
	eng := engine.New(store, database, monthCache, step, &logger)
	commands := booking.NewService(database, database, eng, store, publisher, &logger)

	in := make(chan events.Event, 256)
	var poller *intake.Poller
	supervisor := intake.NewSupervisor(source, in, intake.SupervisorOptions{
		OnRecover: func(ctx context.Context) {
			if err := poller.Refresh(ctx); err != nil {
				logger.Error().Err(err).Msg("resync after reconnect failed")
			}
		},
		Logger: &logger,
	})
	poller, err = intake.NewPoller(database, store, intake.PollerOptions{
		Interval: cfg.PollInterval(),
		Active:   supervisor.Degraded,
		Window:   window,
		Logger:   &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create poller")
	}
	if err := poller.Refresh(ctx); err != nil {
		logger.Fatal().Err(err).Msg("initial load")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(store.Run(ctx, in)) })
	g.Go(func() error { return ignoreCanceled(supervisor.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(poller.Run(ctx)) })

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewServer(eng, commands, database, &logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error { return serve(ctx, apiServer, "api", &logger) })
	g.Go(func() error { return serve(ctx, healthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb), "health", &logger) })

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return serve(ctx, metricsServer, "metrics", &logger) })
	}

	logger.Info().
		Int("port", cfg.HTTP.Port).
		Str("transport", cfg.Events.Transport).
		Msg("schedule service started")

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("schedule service terminated with error")
		os.Exit(1)
	}
	logger.Info().Msg("schedule service stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// applySchedule stores schedule.yaml and mirrors it into the local view.
func applySchedule(ctx context.Context, database *db.DB, store *reconcile.Store, s *config.Schedule, logger *zerolog.Logger) {
	pattern, overrides, err := database.SyncSchedule(ctx, s)
	if err != nil {
		logger.Error().Err(err).Msg("sync schedule")
		return
	}
	store.SetDefaultPattern(pattern)
	for _, p := range overrides {
		store.ApplyWorkingHoursUpserted(p)
	}
	store.RequestRecompute()
	logger.Info().Int("overrides", len(overrides)).Int("services", len(s.Services)).Msg("schedule applied")
}

func newTransport(cfg *config.Config, rdb *redis.Client, logger *zerolog.Logger) (events.Publisher, events.Source, func(), error) {
	noop := func() {}
	switch cfg.Events.Transport {
	case config.TransportRedis:
		return events.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix),
			events.NewRedisSource(rdb, cfg.Redis.ChannelPrefix, 0, logger),
			noop, nil

	case config.TransportKafka:
		kcfg := events.KafkaConfig{
			Brokers: cfg.Events.Kafka.Brokers,
			Topic:   cfg.Events.Kafka.Topic,
			GroupID: cfg.Events.Kafka.GroupID,
		}
		host, _ := os.Hostname()
		pub, err := events.NewKafkaPublisher(kcfg, host)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("kafka publisher: %w", err)
		}
		src, err := events.NewKafkaSource(kcfg, logger)
		if err != nil {
			_ = pub.Close()
			return nil, nil, noop, fmt.Errorf("kafka source: %w", err)
		}
		return pub, src, func() { _ = pub.Close() }, nil

	default:
		bus := events.NewBus()
		return bus, bus, noop, nil
	}
}

func healthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown: %w", name, err)
	}
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
