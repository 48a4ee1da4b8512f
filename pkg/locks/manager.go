package locks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// Manager is the boolean front door the rest of the codebase uses for
// locking. It remembers which scopes this process acquired, so Release can
// never free someone else's hold, and turns provider errors into logged
// false returns: callers only decide "got it" or "skip".
type Manager struct {
	config   ManagerConfig
	provider Provider
	log      logger.Logger

	mu   sync.Mutex
	held map[string]*Held
}

// NewManager wraps a provider. The manager does not own the provider's
// lifecycle, the caller closes it.
func NewManager(cfg ManagerConfig, provider Provider, log logger.Logger) (*Manager, error) {
	if provider == nil {
		return nil, locksError(ErrValidation, "provider is required")
	}
	if log == nil {
		return nil, locksError(ErrValidation, "logger is required")
	}
	return &Manager{
		config:   cfg.normalize(),
		provider: provider,
		log:      log,
		held:     make(map[string]*Held),
	}, nil
}

// Acquire tries to take the scope once, without blocking. It returns false
// when the scope is busy, already held by this manager, or the backend
// failed.
func (m *Manager) Acquire(ctx context.Context, scope string) bool {
	if m == nil {
		return false
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return false
	}

	m.mu.Lock()
	if existing, ok := m.held[scope]; ok {
		if time.Now().Before(existing.ExpireAt) {
			m.mu.Unlock()
			recordAcquisition("busy")
			return false
		}
		delete(m.held, scope)
	}
	m.mu.Unlock()

	held, ok, err := m.provider.Acquire(ctx, scope, m.config.DefaultTTL)
	if err != nil {
		recordAcquisition("error")
		m.log.Error("lock acquire failed", "scope", scope, "error", err)
		return false
	}
	if !ok {
		recordAcquisition("busy")
		return false
	}

	m.mu.Lock()
	m.held[scope] = held
	setHeldCount(len(m.held))
	m.mu.Unlock()

	recordAcquisition("acquired")
	m.log.Debug("lock acquired", "scope", scope, "ttl", m.config.DefaultTTL.String())
	return true
}

// WaitAndAcquire retries Acquire at the poll interval until it wins, maxWait
// elapses or ctx is cancelled.
func (m *Manager) WaitAndAcquire(ctx context.Context, scope string, maxWait time.Duration) bool {
	if m == nil {
		return false
	}
	started := time.Now()
	deadline := started.Add(maxWait)

	for {
		if m.Acquire(ctx, scope) {
			observeWait(time.Since(started))
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.log.Warn("wait for lock timed out", "scope", scope, "waited", time.Since(started).String())
			return false
		}
		wait := m.config.PollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// Release frees a scope this manager holds. Releasing a scope held by
// someone else, or not held at all, returns false and touches nothing.
func (m *Manager) Release(ctx context.Context, scope string) bool {
	if m == nil {
		return false
	}
	scope = strings.TrimSpace(scope)

	m.mu.Lock()
	held, ok := m.held[scope]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.held, scope)
	setHeldCount(len(m.held))
	m.mu.Unlock()

	if err := m.provider.Release(ctx, held); err != nil {
		// The hold may have expired and changed hands in the meantime.
		// Local bookkeeping is already clean either way.
		recordRelease("rejected")
		m.log.Warn("lock release rejected", "scope", scope, "error", err)
		return false
	}
	recordRelease("released")
	m.log.Debug("lock released", "scope", scope)
	return true
}

// Extend renews a held scope for another DefaultTTL. It returns false when
// the scope is not held by this manager or the backend rejected the renewal.
func (m *Manager) Extend(ctx context.Context, scope string) bool {
	if m == nil {
		return false
	}
	scope = strings.TrimSpace(scope)

	m.mu.Lock()
	held, ok := m.held[scope]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := m.provider.Renew(ctx, held, m.config.DefaultTTL); err != nil {
		m.log.Warn("lock renew rejected", "scope", scope, "error", err)
		return false
	}

	m.mu.Lock()
	if current, ok := m.held[scope]; ok && current.Token == held.Token {
		current.ExpireAt = time.Now().Add(m.config.DefaultTTL)
	}
	m.mu.Unlock()
	return true
}

// IsLocked reports whether this manager currently holds the scope. It says
// nothing about holds owned by other processes.
func (m *Manager) IsLocked(scope string) bool {
	if m == nil {
		return false
	}
	scope = strings.TrimSpace(scope)

	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.held[scope]
	if !ok {
		return false
	}
	if !time.Now().Before(held.ExpireAt) {
		delete(m.held, scope)
		setHeldCount(len(m.held))
		return false
	}
	return true
}

// ReleaseAll frees every scope this manager holds and returns how many were
// accepted by the backend. Meant for shutdown paths.
func (m *Manager) ReleaseAll(ctx context.Context) int {
	if m == nil {
		return 0
	}

	m.mu.Lock()
	all := make([]*Held, 0, len(m.held))
	for _, held := range m.held {
		all = append(all, held)
	}
	m.held = make(map[string]*Held)
	setHeldCount(0)
	m.mu.Unlock()

	released := 0
	for _, held := range all {
		if err := m.provider.Release(ctx, held); err != nil {
			recordRelease("rejected")
			m.log.Warn("lock release rejected", "scope", held.Scope, "error", err)
			continue
		}
		recordRelease("released")
		released++
	}
	if released > 0 {
		m.log.Info("released all held locks", "count", released)
	}
	return released
}

// HealthCheck reports whether the backing provider is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if m == nil {
		return locksError(ErrNotInitialized, "lock manager is not initialized")
	}
	return m.provider.HealthCheck(ctx)
}
