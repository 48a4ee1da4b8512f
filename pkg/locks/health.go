package locks

import (
	"strings"
	"time"

	"github.com/guildkit/guildkit/pkg/health"
)

const (
	defaultProviderHealthCheckName = "locks-provider"
	defaultManagerHealthCheckName  = "locks-manager"
)

// NewProviderHealthChecker creates a standard health checker for a lock provider.
func NewProviderHealthChecker(name string, provider Provider, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultProviderHealthCheckName)
	return health.NewAdapterChecker(checkName, provider, timeout)
}

// NewManagerHealthChecker creates a standard health checker for a lock manager.
func NewManagerHealthChecker(name string, manager *Manager, timeout time.Duration) health.Checker {
	checkName := normalizeHealthCheckName(name, defaultManagerHealthCheckName)
	return health.NewAdapterChecker(checkName, manager, timeout)
}

func normalizeHealthCheckName(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
