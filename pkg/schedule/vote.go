package schedule

import (
	"context"
	"time"

	"github.com/guildkit/guildkit/pkg/dispatch"
	"github.com/guildkit/guildkit/pkg/observability/logger"
)

// VoteScheduler schedules two-stage entities: a vote optionally reveals its
// running tally partway through and always resolves at expiry. Votes without
// a reveal point behave exactly like processes.
type VoteScheduler struct {
	*Scheduler
}

// NewVoteScheduler builds a scheduler preconfigured for vote entities.
func NewVoteScheduler(cfg Config, store Store, queue *dispatch.Queue, resolver Resolver, log logger.Logger) (*VoteScheduler, error) {
	if cfg.Name == "" {
		cfg.Name = KindVote
	}
	core, err := New(cfg, store, queue, resolver, log)
	if err != nil {
		return nil, err
	}
	return &VoteScheduler{Scheduler: core}, nil
}

// ScheduleVote persists a fresh pending vote and arms its next stage. A zero
// revealAt skips the reveal stage; otherwise it must precede expireAt.
func (s *VoteScheduler) ScheduleVote(ctx context.Context, id string, revealAt, expireAt time.Time, payload map[string]string) error {
	if s == nil || s.Scheduler == nil {
		return scheduleError(ErrNotInitialized, "vote scheduler is not initialized")
	}
	entity := &Entity{
		ID:        id,
		Kind:      KindVote,
		Status:    StatusPending,
		ExpireAt:  expireAt,
		RevealAt:  revealAt,
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
