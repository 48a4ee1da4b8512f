package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader implements Loader using Viper for configuration management
type ViperLoader struct {
	configFile         string
	envPrefix          string
	serviceNameDefault string
}

// NewViperLoader creates a new ViperLoader
// configFile: path to configuration file (optional, can be empty)
// envPrefix: prefix for environment variables (e.g., "GUILDKIT")
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
	}
}

// WithServiceNameDefault sets the default service.name used when no config/env override is provided.
func (l *ViperLoader) WithServiceNameDefault(serviceName string) *ViperLoader {
	if l == nil {
		return l
	}
	l.serviceNameDefault = strings.TrimSpace(serviceName)
	return l
}

// Load loads configuration with precedence: ENV > file > defaults
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()

	// Start with defaults
	defaults := DefaultConfig()
	l.setDefaults(v, defaults)

	// Read config file if provided
	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified but couldn't be read
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	// Environment variables override file config through explicit bindings.
	v.SetEnvPrefix(l.envPrefix)

	// Bind all environment variables explicitly for nested structs
	l.bindEnvVars(v)

	// Unmarshal into a new config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested structs
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	// Service
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	// Logging
	v.BindEnv("logging.level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("logging.format", l.prefixedEnv("LOG_FORMAT"))

	// Tracing
	v.BindEnv("tracing.enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("tracing.endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("tracing.sample_ratio", l.prefixedEnv("TRACING_SAMPLE_RATIO"))

	// Dispatch
	v.BindEnv("dispatch.max_concurrent", l.prefixedEnv("DISPATCH_MAX_CONCURRENT"))
	v.BindEnv("dispatch.task_timeout", l.prefixedEnv("DISPATCH_TASK_TIMEOUT"))
	v.BindEnv("dispatch.shutdown_grace", l.prefixedEnv("DISPATCH_SHUTDOWN_GRACE"))
	v.BindEnv("dispatch.backpressure.threshold", l.prefixedEnv("DISPATCH_BACKPRESSURE_THRESHOLD"))
	v.BindEnv("dispatch.backpressure.cooldown", l.prefixedEnv("DISPATCH_BACKPRESSURE_COOLDOWN"))

	// Batch. Category profiles carry nested map keys and stay file-only.
	v.BindEnv("batch.progress_interval", l.prefixedEnv("BATCH_PROGRESS_INTERVAL"))
	v.BindEnv("batch.progress_every", l.prefixedEnv("BATCH_PROGRESS_EVERY"))

	// Schedule
	v.BindEnv("schedule.resolution_priority", l.prefixedEnv("SCHEDULE_RESOLUTION_PRIORITY"))
	v.BindEnv("schedule.store.backend", l.prefixedEnv("SCHEDULE_STORE_BACKEND"))
	v.BindEnv("schedule.store.redis.url", l.prefixedEnv("SCHEDULE_STORE_REDIS_URL"))
	v.BindEnv("schedule.store.redis.prefix", l.prefixedEnv("SCHEDULE_STORE_REDIS_PREFIX"))
	v.BindEnv("schedule.store.mongo.url", l.prefixedEnv("SCHEDULE_STORE_MONGO_URL"))
	v.BindEnv("schedule.store.mongo.database", l.prefixedEnv("SCHEDULE_STORE_MONGO_DATABASE"))
	v.BindEnv("schedule.store.mongo.collection", l.prefixedEnv("SCHEDULE_STORE_MONGO_COLLECTION"))
	v.BindEnv("schedule.store.postgres.url", l.prefixedEnv("SCHEDULE_STORE_POSTGRES_URL"))
	v.BindEnv("schedule.store.postgres.table", l.prefixedEnv("SCHEDULE_STORE_POSTGRES_TABLE"))

	// Locks
	v.BindEnv("locks.backend", l.prefixedEnv("LOCKS_BACKEND"))
	v.BindEnv("locks.default_ttl", l.prefixedEnv("LOCKS_DEFAULT_TTL"))
	v.BindEnv("locks.poll_interval", l.prefixedEnv("LOCKS_POLL_INTERVAL"))
	v.BindEnv("locks.redis.url", l.prefixedEnv("LOCKS_REDIS_URL"))
	v.BindEnv("locks.redis.prefix", l.prefixedEnv("LOCKS_REDIS_PREFIX"))
	v.BindEnv("locks.postgres.url", l.prefixedEnv("LOCKS_POSTGRES_URL"))
	v.BindEnv("locks.postgres.table", l.prefixedEnv("LOCKS_POSTGRES_TABLE"))

	// Cooldown
	v.BindEnv("cooldown.sweep_interval", l.prefixedEnv("COOLDOWN_SWEEP_INTERVAL"))
}

// prefixedEnv returns the environment variable name for a key suffix,
// falling back to the GUILDKIT prefix when none was configured.
func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "GUILDKIT"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults sets default values in Viper from the default config
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	// Service defaults
	v.SetDefault("service.name", l.defaultServiceName(cfg.Service.Name))
	v.SetDefault("service.environment", cfg.Service.Environment)

	// Logging defaults
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	// Tracing defaults
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)

	// Dispatch defaults
	v.SetDefault("dispatch.max_concurrent", cfg.Dispatch.MaxConcurrent)
	v.SetDefault("dispatch.task_timeout", cfg.Dispatch.TaskTimeout)
	v.SetDefault("dispatch.shutdown_grace", cfg.Dispatch.ShutdownGrace)
	v.SetDefault("dispatch.backpressure.threshold", cfg.Dispatch.Backpressure.Threshold)
	v.SetDefault("dispatch.backpressure.cooldown", cfg.Dispatch.Backpressure.Cooldown)

	// Batch defaults
	v.SetDefault("batch.progress_interval", cfg.Batch.ProgressInterval)
	v.SetDefault("batch.progress_every", cfg.Batch.ProgressEvery)

	// Schedule defaults
	v.SetDefault("schedule.resolution_priority", cfg.Schedule.ResolutionPriority)
	v.SetDefault("schedule.store.backend", cfg.Schedule.Store.Backend)
	v.SetDefault("schedule.store.redis.url", cfg.Schedule.Store.Redis.URL)
	v.SetDefault("schedule.store.redis.prefix", cfg.Schedule.Store.Redis.Prefix)
	v.SetDefault("schedule.store.mongo.url", cfg.Schedule.Store.Mongo.URL)
	v.SetDefault("schedule.store.mongo.database", cfg.Schedule.Store.Mongo.Database)
	v.SetDefault("schedule.store.mongo.collection", cfg.Schedule.Store.Mongo.Collection)
	v.SetDefault("schedule.store.postgres.url", cfg.Schedule.Store.Postgres.URL)
	v.SetDefault("schedule.store.postgres.table", cfg.Schedule.Store.Postgres.Table)

	// Locks defaults
	v.SetDefault("locks.backend", cfg.Locks.Backend)
	v.SetDefault("locks.default_ttl", cfg.Locks.DefaultTTL)
	v.SetDefault("locks.poll_interval", cfg.Locks.PollInterval)
	v.SetDefault("locks.redis.url", cfg.Locks.Redis.URL)
	v.SetDefault("locks.redis.prefix", cfg.Locks.Redis.Prefix)
	v.SetDefault("locks.postgres.url", cfg.Locks.Postgres.URL)
	v.SetDefault("locks.postgres.table", cfg.Locks.Postgres.Table)

	// Cooldown defaults
	v.SetDefault("cooldown.sweep_interval", cfg.Cooldown.SweepInterval)
}

// defaultServiceName resolves the service.name default, preferring the
// loader-level override when one was configured.
func (l *ViperLoader) defaultServiceName(fallback string) string {
	if l != nil {
		if configured := strings.TrimSpace(l.serviceNameDefault); configured != "" {
			return configured
		}
	}
	return strings.TrimSpace(fallback)
}

// Validate checks every section and reports all problems at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	validLevels := []string{"debug", "info", "warn", "warning", "error"}
	if !contains(validLevels, strings.ToLower(cfg.Logging.Level)) {
		errs = append(errs, fmt.Errorf("invalid logging.level: %s (must be one of: %v)", cfg.Logging.Level, validLevels))
	}
	validFormats := []string{"json", "text", "console"}
	if !contains(validFormats, strings.ToLower(cfg.Logging.Format)) {
		errs = append(errs, fmt.Errorf("invalid logging.format: %s (must be one of: %v)", cfg.Logging.Format, validFormats))
	}

	if cfg.Tracing.Enabled && strings.TrimSpace(cfg.Tracing.Endpoint) == "" {
		errs = append(errs, errors.New("tracing.endpoint is required when tracing is enabled"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", cfg.Tracing.SampleRatio))
	}

	if cfg.Dispatch.MaxConcurrent < 1 || cfg.Dispatch.MaxConcurrent > 3 {
		errs = append(errs, fmt.Errorf("dispatch.max_concurrent must be between 1 and 3, got %d", cfg.Dispatch.MaxConcurrent))
	}
	if cfg.Dispatch.ShutdownGrace < 0 {
		errs = append(errs, errors.New("dispatch.shutdown_grace must not be negative"))
	}
	if cfg.Dispatch.Backpressure.Threshold < 0 {
		errs = append(errs, errors.New("dispatch.backpressure.threshold must not be negative"))
	}
	if cfg.Dispatch.Backpressure.Cooldown < 0 {
		errs = append(errs, errors.New("dispatch.backpressure.cooldown must not be negative"))
	}

	if cfg.Batch.ProgressInterval < 0 {
		errs = append(errs, errors.New("batch.progress_interval must not be negative"))
	}
	if cfg.Batch.ProgressEvery < 0 {
		errs = append(errs, errors.New("batch.progress_every must not be negative"))
	}
	for name, profile := range cfg.Batch.Categories {
		if profile.Interval < 0 {
			errs = append(errs, fmt.Errorf("batch.categories.%s.interval must not be negative", name))
		}
		if profile.Burst < 0 {
			errs = append(errs, fmt.Errorf("batch.categories.%s.burst must not be negative", name))
		}
	}

	if cfg.Schedule.ResolutionPriority < 1 || cfg.Schedule.ResolutionPriority > 5 {
		errs = append(errs, fmt.Errorf("schedule.resolution_priority must be between 1 and 5, got %d", cfg.Schedule.ResolutionPriority))
	}
	validStoreBackends := []string{ScheduleStoreMemory, ScheduleStoreRedis, ScheduleStoreMongoDB, ScheduleStorePostgres}
	storeBackend := strings.ToLower(cfg.Schedule.Store.Backend)
	if !contains(validStoreBackends, storeBackend) {
		errs = append(errs, fmt.Errorf("invalid schedule.store.backend: %s (must be one of: %v)", cfg.Schedule.Store.Backend, validStoreBackends))
	}
	switch storeBackend {
	case ScheduleStoreRedis:
		if cfg.Schedule.Store.Redis.URL == "" {
			errs = append(errs, errors.New("schedule.store.redis.url is required for the redis store"))
		}
	case ScheduleStoreMongoDB:
		if cfg.Schedule.Store.Mongo.URL == "" {
			errs = append(errs, errors.New("schedule.store.mongo.url is required for the mongodb store"))
		}
		if cfg.Schedule.Store.Mongo.Database == "" {
			errs = append(errs, errors.New("schedule.store.mongo.database is required for the mongodb store"))
		}
	case ScheduleStorePostgres:
		if cfg.Schedule.Store.Postgres.URL == "" {
			errs = append(errs, errors.New("schedule.store.postgres.url is required for the postgres store"))
		}
	}

	validLockBackends := []string{LockBackendRuntime, LockBackendRedis, LockBackendPostgres}
	lockBackend := strings.ToLower(cfg.Locks.Backend)
	if !contains(validLockBackends, lockBackend) {
		errs = append(errs, fmt.Errorf("invalid locks.backend: %s (must be one of: %v)", cfg.Locks.Backend, validLockBackends))
	}
	switch lockBackend {
	case LockBackendRedis:
		if cfg.Locks.Redis.URL == "" {
			errs = append(errs, errors.New("locks.redis.url is required for the redis backend"))
		}
	case LockBackendPostgres:
		if cfg.Locks.Postgres.URL == "" {
			errs = append(errs, errors.New("locks.postgres.url is required for the postgres backend"))
		}
	}
	if cfg.Locks.DefaultTTL <= 0 {
		errs = append(errs, errors.New("locks.default_ttl must be positive"))
	}
	if cfg.Locks.PollInterval <= 0 {
		errs = append(errs, errors.New("locks.poll_interval must be positive"))
	}

	if cfg.Cooldown.SweepInterval <= 0 {
		errs = append(errs, errors.New("cooldown.sweep_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
