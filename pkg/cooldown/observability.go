package cooldown

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_cooldown_checks_total",
			Help: "Cooldown checks by outcome.",
		},
		[]string{"result"},
	)

	storedEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildkit_cooldown_entries",
			Help: "Cooldown entries currently stored.",
		},
	)

	sweptEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "guildkit_cooldown_swept_total",
			Help: "Expired cooldown entries removed by the janitor.",
		},
	)
)

func recordCheck(result string) {
	checks.WithLabelValues(result).Inc()
}

func setEntryCount(n int) {
	storedEntries.Set(float64(n))
}

func recordSwept(n int) {
	sweptEntries.Add(float64(n))
}
