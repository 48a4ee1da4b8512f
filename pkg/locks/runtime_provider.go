package locks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// RuntimeProvider keeps locks in process memory. It is the default backend:
// a single bot process needs mutual exclusion between its own workers far
// more often than coordination across hosts.
type RuntimeProvider struct {
	log logger.Logger

	mu     sync.Mutex
	locks  map[string]*runtimeLock
	closed bool
}

type runtimeLock struct {
	token      string
	acquiredAt time.Time
	expireAt   time.Time
	expiry     *time.Timer
}

// NewRuntimeProvider returns an empty in-process lock provider.
func NewRuntimeProvider(log logger.Logger) (*RuntimeProvider, error) {
	if log == nil {
		return nil, locksError(ErrValidation, "logger is required")
	}
	return &RuntimeProvider{log: log, locks: make(map[string]*runtimeLock)}, nil
}

// Acquire takes the scope if it is free or its previous hold expired.
func (p *RuntimeProvider) Acquire(ctx context.Context, scope string, ttl time.Duration) (*Held, bool, error) {
	if p == nil {
		return nil, false, locksError(ErrNotInitialized, "runtime lock provider is not initialized")
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return nil, false, locksError(ErrValidation, "lock scope is required")
	}
	if ttl <= 0 {
		return nil, false, locksError(ErrValidation, "lock ttl must be positive")
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, locksError(ErrClosed, "runtime lock provider is closed")
	}
	if existing, ok := p.locks[scope]; ok {
		if now.Before(existing.expireAt) {
			return nil, false, nil
		}
		// Expired but the timer has not run yet: take over.
		existing.expiry.Stop()
		delete(p.locks, scope)
	}

	token := randomLockToken()
	lock := &runtimeLock{
		token:      token,
		acquiredAt: now,
		expireAt:   now.Add(ttl),
	}
	lock.expiry = time.AfterFunc(ttl, func() { p.expire(scope, token) })
	p.locks[scope] = lock

	return &Held{
		Scope:      scope,
		Token:      token,
		AcquiredAt: now,
		ExpireAt:   lock.expireAt,
	}, true, nil
}

// Renew pushes the expiry of a held lock out by ttl.
func (p *RuntimeProvider) Renew(ctx context.Context, held *Held, ttl time.Duration) error {
	if p == nil {
		return locksError(ErrNotInitialized, "runtime lock provider is not initialized")
	}
	if held == nil {
		return locksError(ErrValidation, "held lock is required")
	}
	if ttl <= 0 {
		return locksError(ErrValidation, "lock ttl must be positive")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return locksError(ErrClosed, "runtime lock provider is closed")
	}
	lock, ok := p.locks[held.Scope]
	if !ok || lock.token != held.Token {
		return locksError(ErrConflict, "lock renew rejected")
	}
	lock.expiry.Stop()
	lock.expireAt = time.Now().Add(ttl)
	lock.expiry = time.AfterFunc(ttl, func() { p.expire(held.Scope, held.Token) })
	return nil
}

// Release frees a held lock. Releasing after expiry or takeover returns
// ErrConflict.
func (p *RuntimeProvider) Release(ctx context.Context, held *Held) error {
	if p == nil {
		return locksError(ErrNotInitialized, "runtime lock provider is not initialized")
	}
	if held == nil {
		return locksError(ErrValidation, "held lock is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return locksError(ErrClosed, "runtime lock provider is closed")
	}
	lock, ok := p.locks[held.Scope]
	if !ok || lock.token != held.Token {
		return locksError(ErrConflict, "lock release rejected")
	}
	lock.expiry.Stop()
	delete(p.locks, held.Scope)
	return nil
}

// HealthCheck reports whether the provider still accepts operations.
func (p *RuntimeProvider) HealthCheck(ctx context.Context) error {
	if p == nil {
		return locksError(ErrNotInitialized, "runtime lock provider is not initialized")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return locksError(ErrClosed, "runtime lock provider is closed")
	}
	return nil
}

// Close drops every lock and rejects further operations.
func (p *RuntimeProvider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for scope, lock := range p.locks {
		lock.expiry.Stop()
		delete(p.locks, scope)
	}
	return nil
}

// expire force-releases a lock whose holder never came back.
func (p *RuntimeProvider) expire(scope, token string) {
	p.mu.Lock()
	lock, ok := p.locks[scope]
	if !ok || lock.token != token {
		p.mu.Unlock()
		return
	}
	heldFor := time.Since(lock.acquiredAt)
	delete(p.locks, scope)
	p.mu.Unlock()

	recordExpiry("runtime")
	p.log.Warn("lock ttl elapsed, force releasing, previous holder likely crashed",
		"scope", scope,
		"held_for", heldFor.String(),
	)
}
