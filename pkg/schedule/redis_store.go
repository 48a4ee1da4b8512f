package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "guildkit:schedule"
	defaultRedisOperationTimeout = 3 * time.Second
)

// RedisStoreConfig holds connection settings for the Redis-backed store.
type RedisStoreConfig struct {
	// URL is a redis:// connection string.
	URL string
	// Prefix namespaces every key this store writes.
	Prefix string
	// OperationTimeout bounds individual commands when the caller context
	// carries no deadline.
	OperationTimeout time.Duration
}

func (c RedisStoreConfig) normalize() RedisStoreConfig {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	return c
}

// RedisStore persists entities as JSON values plus one set of pending ids, so
// recovery is a set read and a multi-get instead of a keyspace scan.
type RedisStore struct {
	client *redis.Client
	config RedisStoreConfig
	log    logger.Logger

	mu     sync.RWMutex
	closed bool
}

// redisEntityRecord is the stored JSON shape. Timestamps travel as epoch
// milliseconds; zero means absent.
type redisEntityRecord struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Status       string            `json:"status"`
	ExpireAtMs   int64             `json:"expire_at_ms"`
	RevealAtMs   int64             `json:"reveal_at_ms,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	StatusReason string            `json:"status_reason,omitempty"`
	UpdatedAtMs  int64             `json:"updated_at_ms"`
}

// Cosa fa: apre il client Redis, verifica la connessione con un ping iniziale.
// Cosa NON fa: non gestisce cluster o failover sentinel.
// Esempio minimo: store, err := schedule.NewRedisStore(cfg, log)
func NewRedisStore(cfg RedisStoreConfig, log logger.Logger) (*RedisStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, scheduleError(ErrValidation, "redis URL is required")
	}
	if log == nil {
		return nil, scheduleError(ErrValidation, "logger is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(scheduleError(ErrValidation, "invalid redis URL"), err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(scheduleError(ErrRetryable, "redis connection failed"), err)
	}

	cfg = cfg.normalize()
	log.Info("Redis schedule store connected", "addr", opts.Addr, "prefix", cfg.Prefix)
	return &RedisStore{client: client, config: cfg, log: log}, nil
}

// Get returns the entity stored under id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	raw, err := s.client.Get(opCtx, s.entityKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
		}
		return nil, errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("reading entity %q failed", id)), err)
	}

	var rec redisEntityRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("decoding entity %q failed", id)), err)
	}
	return decodeRedisEntity(rec), nil
}

// ListPending resolves the pending set into entities. Members whose record
// vanished or went terminal are pruned from the set on the way through.
func (s *RedisStore) ListPending(ctx context.Context) ([]*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	ids, err := s.client.SMembers(opCtx, s.pendingKey()).Result()
	if err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "reading pending set failed"), err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entityKey(id)
	}
	values, err := s.client.MGet(opCtx, keys...).Result()
	if err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "reading pending entities failed"), err)
	}

	pending := make([]*Entity, 0, len(values))
	var stale []interface{}
	for i, value := range values {
		if value == nil {
			stale = append(stale, ids[i])
			continue
		}
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var rec redisEntityRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.log.Warn("skipping undecodable entity", "entity_id", ids[i], "error", err)
			continue
		}
		entity := decodeRedisEntity(rec)
		if IsTerminal(entity.Status) {
			stale = append(stale, entity.ID)
			continue
		}
		pending = append(pending, entity)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(opCtx, s.pendingKey(), stale...).Err(); err != nil {
			s.log.Warn("pruning stale pending members failed", "error", err)
		}
	}
	return pending, nil
}

// UpdateStatus rewrites the entity with the new status and moves its pending
// set membership in the same MULTI/EXEC block.
func (s *RedisStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	if !status.Valid() {
		return scheduleError(ErrValidation, fmt.Sprintf("status %q is invalid", status))
	}
	entity, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	entity.Status = status
	entity.StatusReason = reason
	entity.UpdatedAt = time.Now().UTC()
	return s.Put(ctx, entity)
}

// Put writes the entity record and keeps the pending set in step with its
// status, both inside one MULTI/EXEC block.
func (s *RedisStore) Put(ctx context.Context, entity *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(encodeRedisEntity(entity))
	if err != nil {
		return errors.Join(scheduleError(ErrValidation, fmt.Sprintf("encoding entity %q failed", entity.ID)), err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(opCtx, s.entityKey(entity.ID), payload, 0)
	if IsTerminal(entity.Status) {
		pipe.SRem(opCtx, s.pendingKey(), entity.ID)
	} else {
		pipe.SAdd(opCtx, s.pendingKey(), entity.ID)
	}
	if _, err := pipe.Exec(opCtx); err != nil {
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("writing entity %q failed", entity.ID)), err)
	}
	return nil
}

// HealthCheck pings the server with a short deadline.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(healthCtx).Err(); err != nil {
		s.log.Error("Redis schedule store health check failed", "error", err)
		return errors.Join(scheduleError(ErrRetryable, "redis health check failed"), err)
	}
	return nil
}

// Close releases the client. Further calls return ErrClosed.
func (s *RedisStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.client.Close()
}

func (s *RedisStore) ensureOpen() error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "redis store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return scheduleError(ErrClosed, "redis store is closed")
	}
	return nil
}

func (s *RedisStore) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func (s *RedisStore) entityKey(id string) string {
	return s.config.Prefix + ":entity:" + id
}

func (s *RedisStore) pendingKey() string {
	return s.config.Prefix + ":pending"
}

func encodeRedisEntity(e *Entity) redisEntityRecord {
	return redisEntityRecord{
		ID:           e.ID,
		Kind:         e.Kind,
		Status:       string(e.Status),
		ExpireAtMs:   toMillis(e.ExpireAt),
		RevealAtMs:   toMillis(e.RevealAt),
		Payload:      e.Payload,
		StatusReason: e.StatusReason,
		UpdatedAtMs:  toMillis(e.UpdatedAt),
	}
}

func decodeRedisEntity(rec redisEntityRecord) *Entity {
	return &Entity{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Status:       Status(rec.Status),
		ExpireAt:     fromMillis(rec.ExpireAtMs),
		RevealAt:     fromMillis(rec.RevealAtMs),
		Payload:      rec.Payload,
		StatusReason: rec.StatusReason,
		UpdatedAt:    fromMillis(rec.UpdatedAtMs),
	}
}
