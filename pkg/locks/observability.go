package locks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_lock_acquisitions_total",
			Help: "Lock acquisition attempts by outcome.",
		},
		[]string{"status"},
	)

	releases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_lock_releases_total",
			Help: "Lock releases by outcome.",
		},
		[]string{"status"},
	)

	heldLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildkit_locks_held",
			Help: "Locks currently held by this manager.",
		},
	)

	waitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "guildkit_lock_wait_seconds",
			Help:    "Time spent waiting in WaitAndAcquire before success.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	expiries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_lock_expiries_total",
			Help: "Locks force-released because their ttl ran out.",
		},
		[]string{"backend"},
	)
)

func recordAcquisition(status string) {
	acquisitions.WithLabelValues(status).Inc()
}

func recordRelease(status string) {
	releases.WithLabelValues(status).Inc()
}

func setHeldCount(n int) {
	heldLocks.Set(float64(n))
}

func observeWait(d time.Duration) {
	waitSeconds.Observe(d.Seconds())
}

func recordExpiry(backend string) {
	expiries.WithLabelValues(backend).Inc()
}
