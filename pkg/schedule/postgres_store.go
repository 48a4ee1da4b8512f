package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
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
	defaultPostgresTable            = "guildkit_entities"
	defaultPostgresOperationTimeout = 3 * time.Second
)

// Table names are interpolated into SQL, so only plain identifiers pass.
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStoreConfig holds connection settings for the Postgres-backed store.
type PostgresStoreConfig struct {
	URL   string
	Table string
	// OperationTimeout bounds individual statements when the caller context
	// carries no deadline.
	OperationTimeout time.Duration
}

func (c PostgresStoreConfig) normalize() PostgresStoreConfig {
	c.Table = strings.TrimSpace(c.Table)
	if c.Table == "" {
		c.Table = defaultPostgresTable
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultPostgresOperationTimeout
	}
	return c
}

// PostgresStore persists entities in a single table, one row per id. The
// table is created on first connect when missing.
type PostgresStore struct {
	db     *sql.DB
	config PostgresStoreConfig
	log    logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPostgresStore opens the database, verifies connectivity and makes sure
// the entity table exists.
func NewPostgresStore(cfg PostgresStoreConfig, log logger.Logger) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, scheduleError(ErrValidation, "postgres URL is required")
	}
	if log == nil {
		return nil, scheduleError(ErrValidation, "logger is required")
	}
	cfg = cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, scheduleError(ErrValidation, fmt.Sprintf("invalid postgres table name %q", cfg.Table))
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "opening postgres failed"), err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Join(scheduleError(ErrRetryable, "postgres ping failed"), err)
	}

	store := &PostgresStore{db: db, config: cfg, log: log}
	if err := store.ensureTable(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("Postgres schedule store connected", "table", cfg.Table)
	return store, nil
}

// newPostgresStoreWithDB wraps an existing connection without pinging or
// creating the table. Tests hand in sqlmock connections here.
func newPostgresStoreWithDB(db *sql.DB, cfg PostgresStoreConfig, log logger.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, scheduleError(ErrValidation, "db handle is required")
	}
	if log == nil {
		return nil, scheduleError(ErrValidation, "logger is required")
	}
	cfg = cfg.normalize()
	if !validTableName.MatchString(cfg.Table) {
		return nil, scheduleError(ErrValidation, fmt.Sprintf("invalid postgres table name %q", cfg.Table))
	}
	return &PostgresStore{db: db, config: cfg, log: log}, nil
}

// Get returns the entity stored under id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT id, kind, status, expire_at_ms, reveal_at_ms, payload, status_reason, updated_at_ms FROM %s WHERE id = $1`,
		s.config.Table,
	)
	entity, err := scanPostgresEntity(s.db.QueryRowContext(opCtx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
		}
		return nil, errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("reading entity %q failed", id)), err)
	}
	return entity, nil
}

// ListPending returns every non-terminal row ordered by expiry.
func (s *PostgresStore) ListPending(ctx context.Context) ([]*Entity, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(
		`SELECT id, kind, status, expire_at_ms, reveal_at_ms, payload, status_reason, updated_at_ms FROM %s WHERE status NOT IN ($1, $2, $3) ORDER BY expire_at_ms ASC`,
		s.config.Table,
	)
	rows, err := s.db.QueryContext(opCtx, query,
		string(StatusCompleted), string(StatusCancelled), string(StatusExpired))
	if err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "listing pending entities failed"), err)
	}
	defer rows.Close()

	var pending []*Entity
	for rows.Next() {
		entity, err := scanPostgresEntity(rows)
		if err != nil {
			return nil, errors.Join(scheduleError(ErrRetryable, "decoding pending entity failed"), err)
		}
		pending = append(pending, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(scheduleError(ErrRetryable, "iterating pending entities failed"), err)
	}
	return pending, nil
}

// UpdateStatus rewrites the status columns in place. Unknown ids return
// ErrNotFound.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if !status.Valid() {
		return scheduleError(ErrValidation, fmt.Sprintf("status %q is invalid", status))
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(
		`UPDATE %s SET status = $2, status_reason = $3, updated_at_ms = $4 WHERE id = $1`,
		s.config.Table,
	)
	res, err := s.db.ExecContext(opCtx, query, id, string(status), reason, time.Now().UnixMilli())
	if err != nil {
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("updating entity %q failed", id)), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Join(scheduleError(ErrRetryable, "reading update result failed"), err)
	}
	if affected == 0 {
		return scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
	}
	return nil
}

// Put upserts the entity row.
func (s *PostgresStore) Put(ctx context.Context, entity *Entity) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	opCtx, cancel := s.withOperationTimeout(ctx)
	defer cancel()

	payload, err := encodePostgresPayload(entity.Payload)
	if err != nil {
		return errors.Join(scheduleError(ErrValidation, fmt.Sprintf("encoding entity %q failed", entity.ID)), err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, kind, status, expire_at_ms, reveal_at_ms, payload, status_reason, updated_at_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE
SET kind = EXCLUDED.kind,
    status = EXCLUDED.status,
    expire_at_ms = EXCLUDED.expire_at_ms,
    reveal_at_ms = EXCLUDED.reveal_at_ms,
    payload = EXCLUDED.payload,
    status_reason = EXCLUDED.status_reason,
    updated_at_ms = EXCLUDED.updated_at_ms`,
		s.config.Table,
	)
	_, err = s.db.ExecContext(opCtx, query,
		entity.ID,
		entity.Kind,
		string(entity.Status),
		toMillis(entity.ExpireAt),
		toMillis(entity.RevealAt),
		payload,
		entity.StatusReason,
		toMillis(entity.UpdatedAt),
	)
	if err != nil {
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("writing entity %q failed", entity.ID)), err)
	}
	return nil
}

// HealthCheck pings the database with a short deadline.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(healthCtx); err != nil {
		s.log.Error("Postgres schedule store health check failed", "error", err)
		return errors.Join(scheduleError(ErrRetryable, "postgres health check failed"), err)
	}
	return nil
}

// Close releases the connection pool. Further calls return ErrClosed.
func (s *PostgresStore) Close() error {
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
	return s.db.Close()
}

func (s *PostgresStore) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	expire_at_ms BIGINT NOT NULL,
	reveal_at_ms BIGINT NOT NULL DEFAULT 0,
	payload JSONB,
	status_reason TEXT NOT NULL DEFAULT '',
	updated_at_ms BIGINT NOT NULL
)`, s.config.Table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("creating table %q failed", s.config.Table)), err)
	}
	return nil
}

func (s *PostgresStore) ensureOpen() error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "postgres store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return scheduleError(ErrClosed, "postgres store is closed")
	}
	return nil
}

func (s *PostgresStore) withOperationTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresEntity(row rowScanner) (*Entity, error) {
	var (
		entity       Entity
		status       string
		expireAtMs   int64
		revealAtMs   int64
		payload      []byte
		updatedAtMs  int64
		statusReason string
	)
	err := row.Scan(&entity.ID, &entity.Kind, &status, &expireAtMs, &revealAtMs, &payload, &statusReason, &updatedAtMs)
	if err != nil {
		return nil, err
	}
	entity.Status = Status(status)
	entity.ExpireAt = fromMillis(expireAtMs)
	entity.RevealAt = fromMillis(revealAtMs)
	entity.StatusReason = statusReason
	entity.UpdatedAt = fromMillis(updatedAtMs)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &entity.Payload); err != nil {
			return nil, err
		}
	}
	return &entity, nil
}

func encodePostgresPayload(payload map[string]string) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	return json.Marshal(payload)
}
