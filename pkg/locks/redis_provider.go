package locks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

const (
	defaultRedisLockPrefix       = "guildkit:locks"
	defaultRedisOperationTimeout = 3 * time.Second
)

// Release and renew compare the stored token first so a lock that expired
// and was re-acquired by someone else is never touched.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisProviderConfig holds connection settings for the Redis lock backend.
type RedisProviderConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c RedisProviderConfig) normalize() RedisProviderConfig {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultRedisLockPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	return c
}

// RedisProvider implements scope locking with SET NX plus a token-compared
// delete, so the lock frees itself through key expiry when a holder dies.
type RedisProvider struct {
	client *redis.Client
	config RedisProviderConfig
	log    logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewRedisProvider opens the client and verifies the connection.
func NewRedisProvider(cfg RedisProviderConfig, log logger.Logger) (*RedisProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, locksError(ErrValidation, "redis URL is required")
	}
	if log == nil {
		return nil, locksError(ErrValidation, "logger is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(locksError(ErrValidation, "invalid redis URL"), err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(locksError(ErrRetryable, "redis connection failed"), err)
	}

	cfg = cfg.normalize()
	log.Info("Redis lock provider connected", "addr", opts.Addr, "prefix", cfg.Prefix)
	return &RedisProvider{client: client, config: cfg, log: log}, nil
}

// Acquire takes the scope with SET NX and the configured ttl as key expiry.
func (p *RedisProvider) Acquire(ctx context.Context, scope string, ttl time.Duration) (*Held, bool, error) {
	if err := p.ensureOpen(); err != nil {
		return nil, false, err
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, false, locksError(ErrValidation, "lock scope is required")
	}
	if ttl <= 0 {
		return nil, false, locksError(ErrValidation, "lock ttl must be positive")
	}

	opCtx, cancel := p.withOperationTimeout(ctx)
	defer cancel()

	token := randomLockToken()
	now := time.Now().UTC()
	ok, err := p.client.SetNX(opCtx, p.scopeKey(scope), token, ttl).Result()
	if err != nil {
		return nil, false, errors.Join(locksError(ErrRetryable, "lock acquire failed"), err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Held{
		Scope:      scope,
		Token:      token,
		AcquiredAt: now,
		ExpireAt:   now.Add(ttl),
	}, true, nil
}

// Renew pushes the key expiry out by ttl if the token still matches.
func (p *RedisProvider) Renew(ctx context.Context, held *Held, ttl time.Duration) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if held == nil {
		return locksError(ErrValidation, "held lock is required")
	}
	if ttl <= 0 {
		return locksError(ErrValidation, "lock ttl must be positive")
	}

	opCtx, cancel := p.withOperationTimeout(ctx)
	defer cancel()

	res, err := renewScript.Run(opCtx, p.client, []string{p.scopeKey(held.Scope)}, held.Token, ttl.Milliseconds()).Result()
	if err != nil {
		return errors.Join(locksError(ErrRetryable, "lock renew failed"), err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return locksError(ErrConflict, "lock renew rejected")
	}
	return nil
}

// Release deletes the key if the token still matches.
func (p *RedisProvider) Release(ctx context.Context, held *Held) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if held == nil {
		return locksError(ErrValidation, "held lock is required")
	}

	opCtx, cancel := p.withOperationTimeout(ctx)
	defer cancel()

	res, err := releaseScript.Run(opCtx, p.client, []string{p.scopeKey(held.Scope)}, held.Token).Result()
	if err != nil {
		return errors.Join(locksError(ErrRetryable, "lock release failed"), err)
	}
	if n, ok := res.(int64); !ok || n == 0 {
		return locksError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck pings the server with a short deadline.
func (p *RedisProvider) HealthCheck(ctx context.Context) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Ping(healthCtx).Err(); err != nil {
		p.log.Error("Redis lock provider health check failed", "error", err)
		return errors.Join(locksError(ErrRetryable, "redis health check failed"), err)
	}
	return nil
}

// Close releases the client. Further calls return ErrClosed.
func (p *RedisProvider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.client.Close()
}

func (p *RedisProvider) ensureOpen() error {
	if p == nil {
		return locksError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return locksError(ErrClosed, "redis lock provider is closed")
	}
	return nil
}

func (p *RedisProvider) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.OperationTimeout)
}

func (p *RedisProvider) scopeKey(scope string) string {
	return p.config.Prefix + ":" + scope
}
