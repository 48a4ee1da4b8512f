package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/guildkit/guildkit/pkg/dispatch"
	"github.com/guildkit/guildkit/pkg/observability/logger"
	"github.com/guildkit/guildkit/pkg/observability/tracing"
)

// Scheduler keeps one timer per live entity and submits a resolution task to
// the dispatch queue when a timer fires. It never resolves inline: the queue
// applies priority, concurrency limits and backpressure uniformly, and the
// resolution task re-reads the store so stale timers degrade to no-ops.
type Scheduler struct {
	config   Config
	store    Store
	queue    *dispatch.Queue
	resolver Resolver
	log      logger.Logger

	mu     sync.Mutex
	timers map[string]*entityTimer
	closed bool

	// wg covers fire callbacks between timer expiry and queue hand-off, so
	// Stop does not return while a submission is mid-flight.
	wg sync.WaitGroup
}

type entityTimer struct {
	timer  *time.Timer
	stage  Stage
	fireAt time.Time
}

// New builds a scheduler around the given store, queue and resolver. The
// queue is shared infrastructure: New does not start or stop it.
func New(cfg Config, store Store, queue *dispatch.Queue, resolver Resolver, log logger.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, scheduleError(ErrValidation, "store is required")
	}
	if queue == nil {
		return nil, scheduleError(ErrValidation, "dispatch queue is required")
	}
	if resolver == nil {
		return nil, scheduleError(ErrValidation, "resolver is required")
	}
	if log == nil {
		return nil, scheduleError(ErrValidation, "logger is required")
	}
	return &Scheduler{
		config:   cfg.normalize(),
		store:    store,
		queue:    queue,
		resolver: resolver,
		log:      log,
		timers:   make(map[string]*entityTimer),
	}, nil
}

// Start recovers persisted entities and arms their timers. The scheduler is
// usable without Start when no state predates this process.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "scheduler is not initialized")
	}
	if err := s.Recover(ctx); err != nil {
		return err
	}
	s.log.Info("scheduler started", "scheduler", s.config.Name, "timers", s.Timers())
	return nil
}

// Stop cancels every armed timer and waits for in-flight fire callbacks to
// finish handing their work to the queue. Resolution tasks already queued
// keep running under the queue's own lifecycle. Stop is idempotent.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, handle := range s.timers {
		handle.timer.Stop()
		delete(s.timers, id)
	}
	setTimerCount(s.config.Name, 0)
	s.mu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
	}
	s.log.Info("scheduler stopped", "scheduler", s.config.Name)
	return nil
}

// Schedule arms a timer for the entity's next stage. The entity must already
// be persisted; Schedule touches only in-memory state. A second call for an
// id with a live timer returns ErrConflict.
func (s *Scheduler) Schedule(ctx context.Context, entity *Entity) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "scheduler is not initialized")
	}
	if err := entity.Validate(); err != nil {
		return err
	}
	if IsTerminal(entity.Status) {
		return scheduleError(ErrValidation, fmt.Sprintf("entity %q is already terminal", entity.ID))
	}

	_, span := tracing.StartScheduleSpan(ctx, tracing.SpanOperationScheduleArm,
		tracing.WithEntityID(entity.ID),
		tracing.WithEntityKind(entity.Kind),
	)
	defer span.End()

	stage, fireAt := nextFire(entity, time.Now())
	if err := s.arm(entity.ID, stage, fireAt); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	tracing.RecordSuccess(span)
	s.log.Debug("entity timer armed",
		"scheduler", s.config.Name,
		"entity_id", entity.ID,
		"stage", string(stage),
		"fire_in", time.Until(fireAt).String(),
	)
	return nil
}

// Cancel disarms the live timer for id without touching storage. It returns
// false when no timer is armed, including after the timer already fired.
func (s *Scheduler) Cancel(id string) bool {
	if s == nil {
		return false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}

	s.mu.Lock()
	handle, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.timers, id)
	setTimerCount(s.config.Name, len(s.timers))
	s.mu.Unlock()

	handle.timer.Stop()
	s.log.Info("entity timer cancelled", "scheduler", s.config.Name, "entity_id", id)
	return true
}

// Recover lists non-terminal entities and brings the in-memory timers back in
// line: entities already due are submitted for resolution in ascending fire
// order, the rest get fresh timers. Entities that went terminal while the
// process was down never show up here, ListPending excludes them.
func (s *Scheduler) Recover(ctx context.Context) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "scheduler is not initialized")
	}

	ctx, span := tracing.StartScheduleSpan(ctx, tracing.SpanOperationScheduleRecover)
	defer span.End()

	pending, err := s.store.ListPending(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return errors.Join(scheduleError(ErrRetryable, "listing pending entities failed"), err)
	}

	now := time.Now()
	type dueEntity struct {
		id     string
		stage  Stage
		fireAt time.Time
	}
	var overdue []dueEntity
	var upcoming []*Entity
	for _, entity := range pending {
		if entity == nil || IsTerminal(entity.Status) {
			continue
		}
		stage, fireAt := nextFire(entity, now)
		if fireAt.Sub(now) <= s.config.FireTolerance {
			overdue = append(overdue, dueEntity{id: entity.ID, stage: stage, fireAt: fireAt})
			continue
		}
		upcoming = append(upcoming, entity)
	}

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].fireAt.Before(overdue[j].fireAt)
	})
	for _, due := range overdue {
		recordRecovered(s.config.Name, "overdue")
		s.submitResolution(due.id, due.stage)
	}

	for _, entity := range upcoming {
		stage, fireAt := nextFire(entity, now)
		if err := s.arm(entity.ID, stage, fireAt); err != nil {
			if errors.Is(err, ErrConflict) {
				s.log.Debug("entity timer already armed, skipping", "scheduler", s.config.Name, "entity_id", entity.ID)
				continue
			}
			tracing.RecordError(span, err)
			return err
		}
		recordRecovered(s.config.Name, "armed")
	}

	tracing.RecordSuccess(span)
	s.log.Info("schedule recovery finished",
		"scheduler", s.config.Name,
		"overdue", len(overdue),
		"armed", len(upcoming),
	)
	return nil
}

// Timers returns the number of currently armed timers.
func (s *Scheduler) Timers() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// HealthCheck reports whether the scheduler can still arm timers.
func (s *Scheduler) HealthCheck(ctx context.Context) error {
	if s == nil {
		return scheduleError(ErrNotInitialized, "scheduler is not initialized")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return scheduleError(ErrClosed, "scheduler is stopped")
	}
	return s.store.HealthCheck(ctx)
}

func (s *Scheduler) arm(id string, stage Stage, fireAt time.Time) error {
	delay := time.Until(fireAt)
	if delay <= s.config.FireTolerance {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return scheduleError(ErrClosed, "scheduler is stopped")
	}
	if _, exists := s.timers[id]; exists {
		return scheduleError(ErrConflict, fmt.Sprintf("entity %q already has a live timer", id))
	}
	s.timers[id] = &entityTimer{
		stage:  stage,
		fireAt: fireAt,
		timer:  time.AfterFunc(delay, func() { s.fire(id) }),
	}
	recordArm(s.config.Name, stage)
	setTimerCount(s.config.Name, len(s.timers))
	return nil
}

// fire consumes the timer handle and hands the resolution to the queue. The
// handle is deleted before submission, so a Cancel racing the timer loses
// cleanly: either it removes the handle first and nothing fires, or it
// returns false and resolution proceeds.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	handle, ok := s.timers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	setTimerCount(s.config.Name, len(s.timers))
	stage := handle.stage
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.submitResolution(id, stage)
}

func (s *Scheduler) submitResolution(id string, stage Stage) {
	_, err := s.queue.Add(context.Background(), s.resolutionTask(id, stage), s.config.ResolutionPriority)
	if err != nil {
		recordSubmission(s.config.Name, "error")
		s.log.Warn("resolution task submission failed",
			"scheduler", s.config.Name,
			"entity_id", id,
			"stage", string(stage),
			"error", err,
		)
		return
	}
	recordSubmission(s.config.Name, "submitted")
}

func (s *Scheduler) resolutionTask(id string, stage Stage) dispatch.Task {
	return func(ctx context.Context) error {
		return s.resolve(ctx, id, stage)
	}
}

// resolve is the body of the queued resolution task. It re-reads the entity
// so cancellations and status changes between fire and execution win over
// the timer: missing or terminal entities are skipped without error.
func (s *Scheduler) resolve(ctx context.Context, id string, stage Stage) error {
	ctx, span := tracing.StartScheduleSpan(ctx, tracing.SpanOperationScheduleResolve,
		tracing.WithEntityID(id),
		tracing.WithStage(string(stage)),
	)
	defer span.End()

	entity, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			recordResolution(s.config.Name, stage, "missing")
			s.log.Debug("entity gone before resolution, skipping", "scheduler", s.config.Name, "entity_id", id)
			tracing.RecordSuccess(span)
			return nil
		}
		recordResolution(s.config.Name, stage, "error")
		tracing.RecordError(span, err)
		return errors.Join(scheduleError(ErrRetryable, fmt.Sprintf("reading entity %q failed", id)), err)
	}
	if IsTerminal(entity.Status) {
		recordResolution(s.config.Name, stage, "terminal")
		s.log.Debug("entity already terminal, skipping resolution",
			"scheduler", s.config.Name,
			"entity_id", id,
			"status", string(entity.Status),
		)
		tracing.RecordSuccess(span)
		return nil
	}

	if err := s.resolver.Resolve(ctx, *entity, stage); err != nil {
		recordResolution(s.config.Name, stage, "error")
		s.log.Error("entity resolution failed",
			"scheduler", s.config.Name,
			"entity_id", id,
			"stage", string(stage),
			"error", err,
		)
		tracing.RecordError(span, err)
		return err
	}

	recordResolution(s.config.Name, stage, "resolved")
	s.log.Info("entity resolved", "scheduler", s.config.Name, "entity_id", id, "stage", string(stage))
	tracing.RecordSuccess(span)

	if stage == StageReveal {
		s.chainFinal(ctx, id)
	}
	return nil
}

// chainFinal re-arms an entity for its expiry after a successful reveal. The
// re-read picks up whatever status the resolver wrote; a resolver that chose
// to finish the entity early stops the chain here.
func (s *Scheduler) chainFinal(ctx context.Context, id string) {
	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("re-read after reveal failed, final stage not armed",
				"scheduler", s.config.Name,
				"entity_id", id,
				"error", err,
			)
		}
		return
	}
	if IsTerminal(fresh.Status) {
		return
	}
	if err := s.arm(id, StageFinal, fresh.ExpireAt); err != nil {
		if errors.Is(err, ErrClosed) {
			return
		}
		s.log.Warn("arming final stage after reveal failed",
			"scheduler", s.config.Name,
			"entity_id", id,
			"error", err,
		)
		return
	}
	s.log.Debug("final stage armed after reveal",
		"scheduler", s.config.Name,
		"entity_id", id,
		"fire_in", time.Until(fresh.ExpireAt).String(),
	)
}
