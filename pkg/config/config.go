package config

import "time"

// Schedule store backend constants
const (
	// ScheduleStoreMemory keeps schedule entities in process memory
	ScheduleStoreMemory = "memory"
	// ScheduleStoreRedis persists schedule entities in Redis
	ScheduleStoreRedis = "redis"
	// ScheduleStoreMongoDB persists schedule entities in MongoDB
	ScheduleStoreMongoDB = "mongodb"
	// ScheduleStorePostgres persists schedule entities in PostgreSQL
	ScheduleStorePostgres = "postgres"
)

// Lock backend constants
const (
	// LockBackendRuntime keeps locks in process memory
	LockBackendRuntime = "runtime"
	// LockBackendRedis uses Redis for distributed locks
	LockBackendRedis = "redis"
	// LockBackendPostgres uses PostgreSQL for distributed locks
	LockBackendPostgres = "postgres"
)

// Config is the root configuration structure for the coordination core
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Locks    LocksConfig    `mapstructure:"locks"`
	Cooldown CooldownConfig `mapstructure:"cooldown"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig configures OTLP trace export
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DispatchConfig configures the priority request queue
type DispatchConfig struct {
	MaxConcurrent int                `mapstructure:"max_concurrent"`
	TaskTimeout   time.Duration      `mapstructure:"task_timeout"`
	ShutdownGrace time.Duration      `mapstructure:"shutdown_grace"`
	Backpressure  BackpressureConfig `mapstructure:"backpressure"`
}

// BackpressureConfig configures queue depth alerting
type BackpressureConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// BatchConfig configures the batch processor
type BatchConfig struct {
	ProgressInterval time.Duration                  `mapstructure:"progress_interval"`
	ProgressEvery    int                            `mapstructure:"progress_every"`
	Categories       map[string]BatchCategoryConfig `mapstructure:"categories"`
}

// BatchCategoryConfig describes the pacing profile for one batch category
type BatchCategoryConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Burst    int           `mapstructure:"burst"`
}

// ScheduleConfig configures the delayed-task scheduler
type ScheduleConfig struct {
	ResolutionPriority int                 `mapstructure:"resolution_priority"`
	Store              ScheduleStoreConfig `mapstructure:"store"`
}

// ScheduleStoreConfig selects and configures the schedule persistence backend
type ScheduleStoreConfig struct {
	Backend  string                      `mapstructure:"backend"` // memory, redis, mongodb, postgres
	Redis    RedisScheduleStoreConfig    `mapstructure:"redis"`
	Mongo    MongoScheduleStoreConfig    `mapstructure:"mongo"`
	Postgres PostgresScheduleStoreConfig `mapstructure:"postgres"`
}

// RedisScheduleStoreConfig configures the Redis schedule store
type RedisScheduleStoreConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// MongoScheduleStoreConfig configures the MongoDB schedule store
type MongoScheduleStoreConfig struct {
	URL        string `mapstructure:"url"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// PostgresScheduleStoreConfig configures the PostgreSQL schedule store
type PostgresScheduleStoreConfig struct {
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

// LocksConfig configures the lock manager and its backend
type LocksConfig struct {
	Backend      string             `mapstructure:"backend"` // runtime, redis, postgres
	DefaultTTL   time.Duration      `mapstructure:"default_ttl"`
	PollInterval time.Duration      `mapstructure:"poll_interval"`
	Redis        RedisLockConfig    `mapstructure:"redis"`
	Postgres     PostgresLockConfig `mapstructure:"postgres"`
}

// RedisLockConfig configures the Redis lock provider
type RedisLockConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresLockConfig configures the PostgreSQL lock provider
type PostgresLockConfig struct {
	URL   string `mapstructure:"url"`
	Table string `mapstructure:"table"`
}

// CooldownConfig configures the cooldown manager
type CooldownConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultConfig returns a Config populated with the documented defaults.
// Loaders start from this and layer files and environment variables on top.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "guildkit",
			Environment: "development",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			SampleRatio: 1.0,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent: 1,
			TaskTimeout:   30 * time.Second,
			ShutdownGrace: 10 * time.Second,
			Backpressure: BackpressureConfig{
				Threshold: 0,
				Cooldown:  30 * time.Second,
			},
		},
		Batch: BatchConfig{
			ProgressInterval: 2 * time.Second,
			ProgressEvery:    10,
		},
		Schedule: ScheduleConfig{
			ResolutionPriority: 4,
			Store: ScheduleStoreConfig{
				Backend: ScheduleStoreMemory,
				Redis: RedisScheduleStoreConfig{
					Prefix: "guildkit:schedule",
				},
				Mongo: MongoScheduleStoreConfig{
					Collection: "schedule_entities",
				},
				Postgres: PostgresScheduleStoreConfig{
					Table: "guildkit_entities",
				},
			},
		},
		Locks: LocksConfig{
			Backend:      LockBackendRuntime,
			DefaultTTL:   5 * time.Minute,
			PollInterval: 100 * time.Millisecond,
			Redis: RedisLockConfig{
				Prefix: "guildkit:locks",
			},
			Postgres: PostgresLockConfig{
				Table: "guildkit_locks",
			},
		},
		Cooldown: CooldownConfig{
			SweepInterval: time.Minute,
		},
	}
}
