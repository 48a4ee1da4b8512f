package schedule

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	timersArmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_schedule_armed_total",
			Help: "Timers armed, by scheduler and stage.",
		},
		[]string{"scheduler", "stage"},
	)

	timersLive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guildkit_schedule_timers",
			Help: "Live timers currently armed, by scheduler.",
		},
		[]string{"scheduler"},
	)

	resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_schedule_resolutions_total",
			Help: "Resolution attempts, by scheduler, stage and outcome.",
		},
		[]string{"scheduler", "stage", "outcome"},
	)

	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_schedule_submissions_total",
			Help: "Resolution tasks handed to the dispatch queue, by scheduler and status.",
		},
		[]string{"scheduler", "status"},
	)

	recoveredEntities = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildkit_schedule_recovered_total",
			Help: "Entities seen by boot recovery, by scheduler and disposition.",
		},
		[]string{"scheduler", "disposition"},
	)
)

func recordArm(scheduler string, stage Stage) {
	timersArmed.WithLabelValues(normalizeSchedulerLabel(scheduler), string(stage)).Inc()
}

func setTimerCount(scheduler string, n int) {
	timersLive.WithLabelValues(normalizeSchedulerLabel(scheduler)).Set(float64(n))
}

func recordResolution(scheduler string, stage Stage, outcome string) {
	resolutions.WithLabelValues(normalizeSchedulerLabel(scheduler), string(stage), outcome).Inc()
}

func recordSubmission(scheduler, status string) {
	submissions.WithLabelValues(normalizeSchedulerLabel(scheduler), status).Inc()
}

func recordRecovered(scheduler, disposition string) {
	recoveredEntities.WithLabelValues(normalizeSchedulerLabel(scheduler), disposition).Inc()
}

func normalizeSchedulerLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	return name
}
