// Package cooldown throttles repeated actions per actor. A manager keeps one
// in-memory window per (actor, action) pair; the first check arms the window
// and later checks inside it are reported as blocked with the remaining time.
// Entries are advisory and lost on restart.
package cooldown

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// DefaultSweepInterval is how often the janitor removes expired entries.
const DefaultSweepInterval = time.Minute

// Verdict is the outcome of a cooldown check. TimeLeft is zero unless
// InCooldown is true.
type Verdict struct {
	InCooldown bool
	TimeLeft   time.Duration
}

// Config tunes the manager.
type Config struct {
	// SweepInterval is the janitor pace for removing expired entries.
	SweepInterval time.Duration
}

func (c Config) normalize() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

type cooldownKey struct {
	actor  string
	action string
}

// Manager tracks active cooldown windows. Expired entries are replaced lazily
// on check and removed in bulk by the janitor goroutine so the map does not
// grow with actors that never come back.
type Manager struct {
	config Config
	log    logger.Logger

	mu      sync.Mutex
	entries map[cooldownKey]time.Time

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewManager creates a cooldown manager. Start launches the janitor; the
// manager is usable without it, entries then only leave the map on check or
// clear.
func NewManager(cfg Config, log logger.Logger) (*Manager, error) {
	if log == nil {
		return nil, cooldownError(ErrValidation, "logger is required")
	}
	return &Manager{
		config:  cfg.normalize(),
		log:     log,
		entries: make(map[cooldownKey]time.Time),
	}, nil
}

// Check reports whether the actor is still cooling down for the action. The
// first call for a pair arms a window of the given duration and reports not
// in cooldown; calls inside the window report the remaining time. Blank ids
// or a non-positive duration never block.
func (m *Manager) Check(actorID, actionKey string, duration time.Duration) Verdict {
	if m == nil {
		return Verdict{}
	}
	actorID = strings.TrimSpace(actorID)
	actionKey = strings.TrimSpace(actionKey)
	if actorID == "" || actionKey == "" || duration <= 0 {
		return Verdict{}
	}

	key := cooldownKey{actor: actorID, action: actionKey}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiresAt, ok := m.entries[key]; ok && expiresAt.After(now) {
		recordCheck("blocked")
		return Verdict{InCooldown: true, TimeLeft: expiresAt.Sub(now)}
	}

	m.entries[key] = now.Add(duration)
	setEntryCount(len(m.entries))
	recordCheck("armed")
	m.log.Debug("cooldown armed",
		"actor_id", actorID,
		"action", actionKey,
		"duration", duration)
	return Verdict{}
}

// Clear drops the window for the pair. Returns true when a live window was
// removed; an expired leftover counts as absent.
func (m *Manager) Clear(actorID, actionKey string) bool {
	if m == nil {
		return false
	}
	key := cooldownKey{
		actor:  strings.TrimSpace(actorID),
		action: strings.TrimSpace(actionKey),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, ok := m.entries[key]
	if !ok {
		return false
	}
	delete(m.entries, key)
	setEntryCount(len(m.entries))
	return expiresAt.After(time.Now())
}

// ActiveCount returns the number of windows that have not yet expired.
func (m *Manager) ActiveCount() int {
	if m == nil {
		return 0
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, expiresAt := range m.entries {
		if expiresAt.After(now) {
			active++
		}
	}
	return active
}

// Start launches the janitor goroutine. The janitor also stops when ctx is
// cancelled.
func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return cooldownError(ErrNotInitialized, "cooldown manager is not initialized")
	}
	if ctx == nil {
		return cooldownError(ErrValidation, "context is required")
	}

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.running {
		return cooldownError(ErrConflict, "cooldown janitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.sweepLoop(runCtx)

	m.log.Info("cooldown janitor started", "sweep_interval", m.config.SweepInterval)
	return nil
}

// Stop halts the janitor and waits for it up to the ctx deadline. Idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.lifecycleMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.running = false
	m.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		return nil
	}
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := m.sweep(now); removed > 0 {
				recordSwept(removed)
				m.log.Debug("cooldown sweep removed expired entries", "removed", removed)
			}
		}
	}
}

func (m *Manager) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, expiresAt := range m.entries {
		if !expiresAt.After(now) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		setEntryCount(len(m.entries))
	}
	return removed
}
