package dispatch

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_dispatch_enqueued_total",
			Help: "Total number of tasks submitted to the request queue",
		},
		[]string{"priority", "kind"},
	)

	tasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_dispatch_processed_total",
			Help: "Total number of tasks finished by the request queue",
		},
		[]string{"priority", "status"},
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guildkit_dispatch_task_duration_seconds",
			Help:    "Run time of tasks executed by the request queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"priority"},
	)

	tasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildkit_dispatch_inflight",
			Help: "Current number of tasks being executed",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildkit_dispatch_queue_depth",
			Help: "Current number of queued, not yet started tasks",
		},
	)

	backpressurePausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildkit_dispatch_backpressure_pauses_total",
			Help: "Total number of automatic pauses triggered by rate-limit backpressure",
		},
	)
)

func recordTaskEnqueued(priority Priority, background bool) {
	kind := "foreground"
	if background {
		kind = "background"
	}
	tasksEnqueuedTotal.WithLabelValues(normalizeMetricLabel(priority.String(), "unknown"), kind).Inc()
}

func recordTaskProcessed(priority Priority, status string) {
	tasksProcessedTotal.WithLabelValues(
		normalizeMetricLabel(priority.String(), "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func observeTaskDuration(priority Priority, seconds float64) {
	taskDurationSeconds.WithLabelValues(normalizeMetricLabel(priority.String(), "unknown")).Observe(seconds)
}

func setQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

func incrementInFlight() {
	tasksInFlight.Inc()
}

func decrementInFlight() {
	tasksInFlight.Dec()
}

func recordBackpressurePause() {
	backpressurePausesTotal.Inc()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
