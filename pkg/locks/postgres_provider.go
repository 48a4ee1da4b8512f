package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

const (
	defaultPostgresLockTable        = "guildkit_locks"
	defaultPostgresOperationTimeout = 3 * time.Second
)

var validLockTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresProviderConfig holds connection settings for the Postgres lock
// backend.
type PostgresProviderConfig struct {
	URL              string
	Table            string
	OperationTimeout time.Duration
}

func (c PostgresProviderConfig) normalize() PostgresProviderConfig {
	c.Table = strings.TrimSpace(c.Table)
	if c.Table == "" {
		c.Table = defaultPostgresLockTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultPostgresOperationTimeout
	}
	return c
}

// PostgresProvider implements scope locking as one row per scope. Acquire is
// a single upsert that only replaces expired rows, so contention resolves in
// the database without advisory locks.
type PostgresProvider struct {
	db     *sql.DB
	config PostgresProviderConfig
	log    logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPostgresProvider opens the database, verifies connectivity and makes
// sure the lock table exists.
func NewPostgresProvider(cfg PostgresProviderConfig, log logger.Logger) (*PostgresProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, locksError(ErrValidation, "postgres URL is required")
	}
	if log == nil {
		return nil, locksError(ErrValidation, "logger is required")
	}
	cfg = cfg.normalize()
	if !validLockTableName.MatchString(cfg.Table) {
		return nil, locksError(ErrValidation, fmt.Sprintf("invalid postgres table name %q", cfg.Table))
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Join(locksError(ErrRetryable, "opening postgres failed"), err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Join(locksError(ErrRetryable, "postgres ping failed"), err)
	}

	provider := &PostgresProvider{db: db, config: cfg, log: log}
	if err := provider.ensureTable(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Postgres lock provider connected", "table", cfg.Table)
	return provider, nil
}

// newPostgresProviderWithDB wraps an existing connection without pinging or
// creating the table. Tests hand in sqlmock connections here.
func newPostgresProviderWithDB(db *sql.DB, cfg PostgresProviderConfig, log logger.Logger) (*PostgresProvider, error) {
	if db == nil {
		return nil, locksError(ErrValidation, "db handle is required")
	}
	if log == nil {
		return nil, locksError(ErrValidation, "logger is required")
	}
	cfg = cfg.normalize()
	if !validLockTableName.MatchString(cfg.Table) {
		return nil, locksError(ErrValidation, fmt.Sprintf("invalid postgres table name %q", cfg.Table))
	}
	return &PostgresProvider{db: db, config: cfg, log: log}, nil
}

// Acquire inserts the scope row, or replaces it when the previous hold
// expired.
func (p *PostgresProvider) Acquire(ctx context.Context, scope string, ttl time.Duration) (*Held, bool, error) {
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
	query := fmt.Sprintf(`
WITH upsert AS (
	INSERT INTO %s(scope, token, acquired_at, expires_at, updated_at)
	VALUES ($1, $2, NOW(), $3, NOW())
	ON CONFLICT(scope) DO UPDATE
	SET token = EXCLUDED.token,
	    acquired_at = NOW(),
	    expires_at = EXCLUDED.expires_at,
	    updated_at = NOW()
	WHERE %s.expires_at <= NOW()
	RETURNING 1
)
SELECT EXISTS(SELECT 1 FROM upsert)`, p.config.Table, p.config.Table)

	var acquired bool
	if err := p.db.QueryRowContext(opCtx, query, scope, token, now.Add(ttl)).Scan(&acquired); err != nil {
		return nil, false, errors.Join(locksError(ErrRetryable, "lock acquire failed"), err)
	}
	if !acquired {
		return nil, false, nil
	}
	return &Held{
		Scope:      scope,
		Token:      token,
		AcquiredAt: now,
		ExpireAt:   now.Add(ttl),
	}, true, nil
}

// Renew pushes the row expiry out by ttl if the token still matches and the
// hold has not already lapsed.
func (p *PostgresProvider) Renew(ctx context.Context, held *Held, ttl time.Duration) error {
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

	query := fmt.Sprintf(
		`UPDATE %s SET expires_at=$3, updated_at=NOW() WHERE scope=$1 AND token=$2 AND expires_at > NOW()`,
		p.config.Table,
	)
	res, err := p.db.ExecContext(opCtx, query, held.Scope, held.Token, time.Now().UTC().Add(ttl))
	if err != nil {
		return errors.Join(locksError(ErrRetryable, "lock renew failed"), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Join(locksError(ErrRetryable, "reading renew result failed"), err)
	}
	if affected == 0 {
		return locksError(ErrConflict, "lock renew rejected")
	}
	return nil
}

// Release deletes the row if the token still matches.
func (p *PostgresProvider) Release(ctx context.Context, held *Held) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	if held == nil {
		return locksError(ErrValidation, "held lock is required")
	}

	opCtx, cancel := p.withOperationTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE scope=$1 AND token=$2`, p.config.Table)
	res, err := p.db.ExecContext(opCtx, query, held.Scope, held.Token)
	if err != nil {
		return errors.Join(locksError(ErrRetryable, "lock release failed"), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Join(locksError(ErrRetryable, "reading release result failed"), err)
	}
	if affected == 0 {
		return locksError(ErrConflict, "lock release rejected")
	}
	return nil
}

// HealthCheck pings the database with a short deadline.
func (p *PostgresProvider) HealthCheck(ctx context.Context) error {
	if err := p.ensureOpen(); err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.db.PingContext(healthCtx); err != nil {
		p.log.Error("Postgres lock provider health check failed", "error", err)
		return errors.Join(locksError(ErrRetryable, "postgres health check failed"), err)
	}
	return nil
}

// Close releases the connection pool. Further calls return ErrClosed.
func (p *PostgresProvider) Close() error {
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
	return p.db.Close()
}

func (p *PostgresProvider) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	scope TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, p.config.Table)
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return errors.Join(locksError(ErrRetryable, fmt.Sprintf("creating table %q failed", p.config.Table)), err)
	}
	return nil
}

func (p *PostgresProvider) ensureOpen() error {
	if p == nil {
		return locksError(ErrNotInitialized, "postgres lock provider is not initialized")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return locksError(ErrClosed, "postgres lock provider is closed")
	}
	return nil
}

func (p *PostgresProvider) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.OperationTimeout)
}
