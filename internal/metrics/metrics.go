package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bronivik_schedule"

var (
	once sync.Once

	eventsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Count of mutation events merged into the store by type.",
		},
		[]string{"type"},
	)

	recomputes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompute_total",
			Help:      "Count of availability recomputations started.",
		},
	)

	recomputeStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recompute_stale_dropped_total",
			Help:      "Count of recomputation results discarded because a newer generation started.",
		},
	)

	recomputeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recompute_duration_seconds",
			Help:      "Time spent computing availability for the watched window.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	conflictsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_detected_total",
			Help:      "Count of proposals rejected by the conflict check.",
		},
	)

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Count of bookings created by status.",
		},
		[]string{"status"},
	)

	pollRefresh = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_refresh_total",
			Help:      "Count of full refreshes performed by the polling fallback.",
		},
	)

	intakeDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intake_degraded",
			Help:      "1 while the event channel is down and polling is active.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			eventsApplied,
			recomputes,
			recomputeStale,
			recomputeDuration,
			conflictsDetected,
			bookingCreated,
			pollRefresh,
			intakeDegraded,
		)
	})
}

func IncEventApplied(eventType string) {
	eventsApplied.WithLabelValues(eventType).Inc()
}

func IncRecompute() {
	recomputes.Inc()
}

func IncRecomputeStale() {
	recomputeStale.Inc()
}

func ObserveRecompute(d time.Duration) {
	recomputeDuration.Observe(d.Seconds())
}

func IncConflictDetected() {
	conflictsDetected.Inc()
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncPollRefresh() {
	pollRefresh.Inc()
}

func SetIntakeDegraded(degraded bool) {
	if degraded {
		intakeDegraded.Set(1)
		return
	}
	intakeDegraded.Set(0)
}
