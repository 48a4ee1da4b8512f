package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps entities in a process-local map. It backs tests and
// single-node deployments that can afford to lose schedules on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*Entity
	closed   bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[string]*Entity)}
}

// Get returns a copy of the entity with the given id.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Entity, error) {
	if s == nil {
		return nil, scheduleError(ErrNotInitialized, "memory store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, scheduleError(ErrClosed, "memory store is closed")
	}
	entity, ok := s.entities[id]
	if !ok {
		return nil, scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
	}
	return entity.Clone(), nil
}

// ListPending returns copies of every non-terminal entity in no particular
// order.
func (s *MemoryStore) ListPending(ctx context.Context) ([]*Entity, error) {
	if s == nil {
		return nil, scheduleError(ErrNotInitialized, "memory store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, scheduleError(ErrClosed, "memory store is closed")
	}
	pending := make([]*Entity, 0, len(s.entities))
	for _, entity := range s.entities {
		if IsTerminal(entity.Status) {
			continue
		}
		pending = append(pending, entity.Clone())
	}
	return pending, nil
}

// UpdateStatus moves an entity to status, recording the reason alongside.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "memory store is not initialized")
	}
	if !status.Valid() {
		return scheduleError(ErrValidation, fmt.Sprintf("status %q is invalid", status))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return scheduleError(ErrClosed, "memory store is closed")
	}
	entity, ok := s.entities[id]
	if !ok {
		return scheduleError(ErrNotFound, fmt.Sprintf("entity %q", id))
	}
	entity.Status = status
	entity.StatusReason = reason
	entity.UpdatedAt = time.Now().UTC()
	return nil
}

// Put inserts or replaces an entity.
func (s *MemoryStore) Put(ctx context.Context, entity *Entity) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "memory store is not initialized")
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return scheduleError(ErrClosed, "memory store is closed")
	}
	s.entities[entity.ID] = entity.Clone()
	return nil
}

// HealthCheck reports whether the store still accepts operations.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "memory store is not initialized")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return scheduleError(ErrClosed, "memory store is closed")
	}
	return nil
}

// Close empties the store and rejects further operations.
func (s *MemoryStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entities = nil
	return nil
}
