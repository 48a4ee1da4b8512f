package dispatch

import (
	"strings"
	"time"

	"github.com/guildkit/guildkit/pkg/health"
)

const defaultQueueHealthCheckName = "dispatch-queue"

// NewQueueHealthChecker creates a standard health checker for a request queue.
func NewQueueHealthChecker(name string, queue *Queue, timeout time.Duration) health.Checker {
	checkName := strings.TrimSpace(name)
	if checkName == "" {
		checkName = defaultQueueHealthCheckName
	}
	return health.NewAdapterChecker(checkName, queue, timeout)
}
