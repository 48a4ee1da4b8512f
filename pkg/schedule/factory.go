package schedule

import (
	"fmt"
	"strings"

	"github.com/guildkit/guildkit/pkg/config"
	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// Cosa fa: seleziona e inizializza lo store delle entità in base alla config.
// Cosa NON fa: non gestisce fallback tra backend diversi.
// Esempio minimo: st, err := schedule.NewStoreFromConfig(cfg.Schedule.Store, log)
func NewStoreFromConfig(cfg config.ScheduleStoreConfig, log logger.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.ScheduleStoreMemory, "":
		return NewMemoryStore(), nil
	case config.ScheduleStoreRedis:
		return NewRedisStore(RedisStoreConfig{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
		}, log)
	case config.ScheduleStoreMongoDB:
		return NewMongoStore(MongoStoreConfig{
			URL:        cfg.Mongo.URL,
			Database:   cfg.Mongo.Database,
			Collection: cfg.Mongo.Collection,
		}, log)
	case config.ScheduleStorePostgres:
		return NewPostgresStore(PostgresStoreConfig{
			URL:   cfg.Postgres.URL,
			Table: cfg.Postgres.Table,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported schedule store backend %q (supported: memory, redis, mongodb, postgres)", cfg.Backend)
	}
}
