// Package locks guards named scopes so only one worker acts on a scope at a
// time. A Manager wraps a Provider: providers implement token-fenced
// acquire/release against a backend, the manager adds default TTLs, polling
// waits and bookkeeping of its own holdings. Locks always carry a TTL, a
// crashed holder frees its scope when the TTL runs out.
package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Held describes one acquired lock. The token fences release: only the
// holder that acquired a lock can release it.
type Held struct {
	Scope      string
	Token      string
	AcquiredAt time.Time
	ExpireAt   time.Time
}

// Provider implements scope locking against one backend. Acquire reports
// (nil, false, nil) when the scope is already held; errors are reserved for
// backend failures.
type Provider interface {
	// Acquire takes the scope for ttl if it is free or expired.
	Acquire(ctx context.Context, scope string, ttl time.Duration) (*Held, bool, error)
	// Renew extends a held lock by ttl. Renewing a lock that expired or
	// changed hands returns ErrConflict.
	Renew(ctx context.Context, held *Held, ttl time.Duration) error
	// Release frees a held lock. Releasing a lock that changed hands
	// returns ErrConflict.
	Release(ctx context.Context, held *Held) error
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

const (
	// DefaultTTL bounds how long a crashed holder can block a scope.
	DefaultTTL = 5 * time.Minute
	// DefaultPollInterval paces WaitAndAcquire retries.
	DefaultPollInterval = 100 * time.Millisecond
)

// ManagerConfig tunes the lock manager.
type ManagerConfig struct {
	// DefaultTTL is applied to every acquisition the manager makes.
	DefaultTTL time.Duration
	// PollInterval is the retry pace of WaitAndAcquire.
	PollInterval time.Duration
}

func (c ManagerConfig) normalize() ManagerConfig {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// randomLockToken returns a fencing token. The timestamp fallback keeps
// acquisition working if the system entropy source fails.
func randomLockToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
