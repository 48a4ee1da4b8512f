package locks

import (
	"fmt"
	"strings"

	"github.com/guildkit/guildkit/pkg/config"
	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// NewProviderFromConfig selects and initializes a lock provider from config.
func NewProviderFromConfig(cfg config.LocksConfig, log logger.Logger) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.LockBackendRuntime, "":
		return NewRuntimeProvider(log)
	case config.LockBackendRedis:
		return NewRedisProvider(RedisProviderConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
		}, log)
	case config.LockBackendPostgres:
		return NewPostgresProvider(PostgresProviderConfig{
			URL:   cfg.Postgres.URL,
			Table: cfg.Postgres.Table,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported lock backend %q (supported: runtime, redis, postgres)", cfg.Backend)
	}
}
