package batch

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildkit_batch_items_total",
		Help: "Batch items processed, labeled by category and outcome.",
	}, []string{"category", "status"})

	batchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildkit_batch_runs_total",
		Help: "Batch runs started, labeled by category.",
	}, []string{"category"})

	batchRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guildkit_batch_run_duration_seconds",
		Help:    "Wall-clock duration of batch runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"category"})
)

func recordItem(category, status string) {
	batchItemsTotal.WithLabelValues(normalizeMetricLabel(category), status).Inc()
}

func recordRun(category string) {
	batchRunsTotal.WithLabelValues(normalizeMetricLabel(category)).Inc()
}

func observeRunDuration(category string, seconds float64) {
	batchRunDuration.WithLabelValues(normalizeMetricLabel(category)).Observe(seconds)
}

func normalizeMetricLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
