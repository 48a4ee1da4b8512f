package schedule

import (
	"context"
	"time"

	"github.com/guildkit/guildkit/pkg/dispatch"
	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// ProcessScheduler schedules single-stage entities: a process is created,
// waits out its window and gets resolved once at expiry.
type ProcessScheduler struct {
	*Scheduler
}

// NewProcessScheduler builds a scheduler preconfigured for process entities.
func NewProcessScheduler(cfg Config, store Store, queue *dispatch.Queue, resolver Resolver, log logger.Logger) (*ProcessScheduler, error) {
	if cfg.Name == "" {
		cfg.Name = KindProcess
	}
	core, err := New(cfg, store, queue, resolver, log)
	if err != nil {
		return nil, err
	}
	return &ProcessScheduler{Scheduler: core}, nil
}

// ScheduleProcess persists a fresh pending process and arms its expiry timer
// in one call. The payload is copied before storage.
func (s *ProcessScheduler) ScheduleProcess(ctx context.Context, id string, expireAt time.Time, payload map[string]string) error {
	if s == nil || s.Scheduler == nil {
		return scheduleError(ErrNotInitialized, "process scheduler is not initialized")
	}
	entity := &Entity{
		ID:        id,
		Kind:      KindProcess,
		Status:    StatusPending,
		ExpireAt:  expireAt,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	if err := s.store.Put(ctx, entity); err != nil {
		return err
	}
	return s.Schedule(ctx, entity)
}
