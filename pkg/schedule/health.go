package schedule

import (
	"strings"
	"time"

	"github.com/guildkit/guildkit/pkg/health"
)

const (
	defaultStoreHealthCheckName     = "schedule-store"
	defaultSchedulerHealthCheckName = "schedule-scheduler"
)

// NewStoreHealthChecker creates a standard health checker for an entity store.
func NewStoreHealthChecker(name string, store Store, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultStoreHealthCheckName)
	return health.NewAdapterChecker(checkName, store, timeout)
}

// NewSchedulerHealthChecker creates a standard health checker for a scheduler.
func NewSchedulerHealthChecker(name string, scheduler *Scheduler, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultSchedulerHealthCheckName)
	return health.NewAdapterChecker(checkName, scheduler, timeout)
}

func normalizeHealthCheckName(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
