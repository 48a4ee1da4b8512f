// Package schedule arms one timer per stored entity and hands resolution work
// to the dispatch queue when the timer fires. Entities survive restarts in a
// pluggable Store; Recover re-arms them and drains anything that came due
// while the process was down. Timers are advisory: the store re-read at fire
// time is what decides whether a resolver actually runs.
package schedule

import (
	"context"
	"strings"
	"time"

	"github.com/guildkit/guildkit/pkg/dispatch"
)

// Status is the lifecycle state of a scheduled entity.
type Status string

const (
	// StatusPending marks an entity waiting for its first stage.
	StatusPending Status = "pending"
	// StatusInProgress marks an entity past its intermediate stage, still
	// waiting for the final one.
	StatusInProgress Status = "in_progress"
	// StatusCompleted marks an entity resolved normally.
	StatusCompleted Status = "completed"
	// StatusCancelled marks an entity withdrawn before resolution.
	StatusCancelled Status = "cancelled"
	// StatusExpired marks an entity that ran out without a normal resolution.
	StatusExpired Status = "expired"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether an entity in status s is done for good.
// Terminal entities are never re-armed and never re-resolved.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Stage names which timer of an entity fired.
type Stage string

const (
	// StageReveal is the intermediate stage of entities with a RevealAt.
	StageReveal Stage = "reveal"
	// StageFinal is the expiry stage every entity has.
	StageFinal Stage = "final"
)

// Entity kinds used by the bundled schedulers.
const (
	KindProcess = "process"
	KindVote    = "vote"
)

// Entity is one scheduled item. Stores persist timestamps as epoch
// milliseconds; zero time round-trips as millisecond zero.
type Entity struct {
	ID           string
	Kind         string
	Status       Status
	ExpireAt     time.Time
	RevealAt     time.Time // zero when the entity has no intermediate stage
	Payload      map[string]string
	StatusReason string
	UpdatedAt    time.Time
}

// Clone returns a deep copy so callers cannot mutate store-held state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Payload != nil {
		clone.Payload = make(map[string]string, len(e.Payload))
		for k, v := range e.Payload {
			clone.Payload[k] = v
		}
	}
	return &clone
}

// Validate checks the fields every store and scheduler relies on.
func (e *Entity) Validate() error {
	if e == nil {
		return scheduleError(ErrValidation, "entity is required")
	}
	if strings.TrimSpace(e.ID) == "" {
		return scheduleError(ErrValidation, "entity id is required")
	}
	if strings.TrimSpace(e.Kind) == "" {
		return scheduleError(ErrValidation, "entity kind is required")
	}
	if !e.Status.Valid() {
		return scheduleError(ErrValidation, "entity status is invalid")
	}
	if e.ExpireAt.IsZero() {
		return scheduleError(ErrValidation, "entity expiry is required")
	}
	if !e.RevealAt.IsZero() && !e.RevealAt.Before(e.ExpireAt) {
		return scheduleError(ErrValidation, "entity reveal must precede expiry")
	}
	return nil
}

// Store persists entities between restarts. Implementations must return
// ErrNotFound for unknown ids and tolerate concurrent calls.
type Store interface {
	// Get returns a copy of the entity with the given id.
	Get(ctx context.Context, id string) (*Entity, error)
	// ListPending returns copies of every non-terminal entity.
	ListPending(ctx context.Context) ([]*Entity, error)
	// UpdateStatus moves an entity to status, recording why.
	UpdateStatus(ctx context.Context, id string, status Status, reason string) error
	// Put inserts or replaces an entity.
	Put(ctx context.Context, entity *Entity) error
	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Resolver performs the domain action when an entity's stage comes due. The
// entity passed in was re-read from the store just before the call.
// Resolvers own the terminal status write and must be idempotent: the
// scheduler may hand them the same entity twice around crashes.
type Resolver interface {
	Resolve(ctx context.Context, entity Entity, stage Stage) error
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, entity Entity, stage Stage) error

// Resolve calls fn.
func (fn ResolverFunc) Resolve(ctx context.Context, entity Entity, stage Stage) error {
	return fn(ctx, entity, stage)
}

const (
	// DefaultName labels metrics and logs when the config carries no name.
	DefaultName = "scheduler"
	// DefaultResolutionPriority is the queue band resolution tasks run in.
	DefaultResolutionPriority = dispatch.PriorityHigh
)

// Config tunes one scheduler instance.
type Config struct {
	// Name distinguishes scheduler instances in logs and metrics.
	Name string
	// ResolutionPriority is the dispatch band for resolution tasks.
	ResolutionPriority dispatch.Priority
	// FireTolerance treats fire times this close to now as already due, so
	// recovery resolves them in the boot sweep instead of arming a timer
	// that would fire moments later. Zero keeps only truly elapsed times due.
	FireTolerance time.Duration
}

func (c Config) normalize() Config {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = DefaultName
	}
	if !c.ResolutionPriority.Valid() {
		c.ResolutionPriority = DefaultResolutionPriority
	}
	if c.FireTolerance < 0 {
		c.FireTolerance = 0
	}
	return c
}

// nextFire picks the stage and time an entity should fire at next. A pending
// entity with an unelapsed RevealAt fires its reveal first; everything else
// goes straight to expiry. An elapsed reveal is skipped rather than run late,
// the final stage covers for it.
func nextFire(entity *Entity, now time.Time) (Stage, time.Time) {
	if !entity.RevealAt.IsZero() && entity.RevealAt.After(now) && entity.Status == StatusPending {
		return StageReveal, entity.RevealAt
	}
	return StageFinal, entity.ExpireAt
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
