// Package dispatch provides the priority request queue that serializes all
// outbound calls against a rate-limited upstream API. Tasks are dequeued
// highest priority first, FIFO within a band, and executed under a small
// concurrency ceiling.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guildkit/guildkit/pkg/observability/logger"
	"github.com/guildkit/guildkit/pkg/observability/tracing"
	"github.com/guildkit/guildkit/pkg/resilience"
)

const notifyTimeout = 5 * time.Second

// Queue is the central serialization point for outbound work. Construct with
// New, then Start; submissions are accepted before Start and drain once the
// queue runs.
type Queue struct {
	config Config
	log    logger.Logger
	sink   NotificationSink

	// mu guards the heap, the stats counters, the background task index and
	// the pause state. Nothing outside the queue mutates them.
	mu          sync.Mutex
	tasks       taskHeap
	sequence    uint64
	background  map[string]*queuedTask
	stats       Stats
	manualPause bool
	autoPause   bool
	resumeTimer *time.Timer
	closed      bool

	breaker *resilience.CircuitBreaker
	wake    chan struct{}

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	slots       chan struct{}
}

// New creates a request queue. The sink is optional; pass nil when background
// task notifications are not needed.
func New(cfg Config, log logger.Logger, sink NotificationSink) (*Queue, error) {
	if log == nil {
		return nil, dispatchError(ErrValidation, "logger is required")
	}
	cfg.normalize()

	q := &Queue{
		config:     cfg,
		log:        log,
		sink:       sink,
		background: map[string]*queuedTask{},
		wake:       make(chan struct{}, 1),
		slots:      make(chan struct{}, cfg.MaxConcurrent),
	}
	if cfg.Backpressure.Threshold > 0 {
		q.breaker = resilience.NewCircuitBreaker(cfg.Backpressure.Threshold, cfg.Backpressure.Cooldown)
	}
	return q, nil
}

// Start launches the drain loop. The loop also stops when ctx is cancelled,
// but Stop remains the path that releases queued tickets.
func (q *Queue) Start(ctx context.Context) error {
	if q == nil {
		return dispatchError(ErrNotInitialized, "queue is not initialized")
	}
	if ctx == nil {
		return dispatchError(ErrValidation, "context is required")
	}

	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()
	if q.running {
		return dispatchError(ErrConflict, "queue already running")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return dispatchError(ErrClosed, "queue is stopped")
	}
	q.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	go q.drainLoop(runCtx)

	q.log.Info("request queue started",
		"max_concurrent", q.config.MaxConcurrent,
		"task_timeout", q.config.TaskTimeout,
		"backpressure_threshold", q.config.Backpressure.Threshold)
	return nil
}

// Stop shuts the queue down: no new submissions, queued-not-started tickets
// complete with ErrClosed, and in-flight tasks are waited for up to the ctx
// deadline or ShutdownGrace, whichever is sooner. Idempotent.
func (q *Queue) Stop(ctx context.Context) error {
	if q == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	q.lifecycleMu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.running = false
	q.lifecycleMu.Unlock()

	q.mu.Lock()
	q.closed = true
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
		q.resumeTimer = nil
	}
	pending := drainTasks(&q.tasks)
	for _, item := range pending {
		if item.background {
			delete(q.background, item.taskID)
		}
	}
	q.mu.Unlock()

	for _, item := range pending {
		item.ticket.complete(dispatchError(ErrClosed, "queue stopped before task started"))
	}
	if len(pending) > 0 {
		setQueueDepth(0)
		q.log.Info("released queued tasks on shutdown", "count", len(pending))
	}

	if cancel != nil {
		cancel()
	}

	waitCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, q.config.ShutdownGrace)
		defer cancelWait()
	}

	waitCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCtx.Done():
		return waitCtx.Err()
	case <-waitCh:
		return nil
	}
}

// Add submits a foreground task. The returned ticket resolves with the task's
// own outcome once it ran.
func (q *Queue) Add(ctx context.Context, task Task, priority Priority) (*Ticket, error) {
	return q.enqueue(ctx, task, priority, "", "", "", false)
}

// AddBackground submits a task tracked by id. A second submission while the
// same id is still queued or running returns ErrConflict. Lifecycle phases go
// to the notification sink as well as the ticket.
func (q *Queue) AddBackground(ctx context.Context, bt BackgroundTask) (*Ticket, error) {
	if q == nil {
		return nil, dispatchError(ErrNotInitialized, "queue is not initialized")
	}
	if bt.Task == nil {
		return nil, dispatchError(ErrValidation, "task is required")
	}

	priority := bt.Priority
	if priority == 0 {
		priority = PriorityBackground
	}
	taskID := strings.TrimSpace(bt.TaskID)
	if taskID == "" {
		taskID = uuid.NewString()
	}

	return q.enqueue(ctx, bt.Task, priority, taskID, normalizeTaskName(bt.TaskName), strings.TrimSpace(bt.Target), true)
}

func (q *Queue) enqueue(ctx context.Context, task Task, priority Priority, taskID, taskName, target string, background bool) (*Ticket, error) {
	if q == nil {
		return nil, dispatchError(ErrNotInitialized, "queue is not initialized")
	}
	if task == nil {
		return nil, dispatchError(ErrValidation, "task is required")
	}
	if !priority.Valid() {
		return nil, dispatchError(ErrValidation, fmt.Sprintf("priority %d outside valid range 1..5", int(priority)))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := tracing.StartTaskSpan(ctx, tracing.SpanOperationTaskEnqueue,
		tracing.WithTaskID(taskID),
		tracing.WithTaskName(taskName),
		tracing.WithPriority(int(priority)),
	)
	defer span.End()

	item := &queuedTask{
		task:       task,
		priority:   priority,
		ticket:     newTicket(taskID),
		background: background,
		taskID:     taskID,
		taskName:   taskName,
		target:     target,
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		err := dispatchError(ErrClosed, "queue is stopped")
		tracing.RecordError(span, err)
		return nil, err
	}
	if background {
		if _, exists := q.background[taskID]; exists {
			q.mu.Unlock()
			err := dispatchError(ErrConflict, fmt.Sprintf("background task %q is already queued or running", taskID))
			tracing.RecordError(span, err)
			return nil, err
		}
		q.background[taskID] = item
	}
	q.sequence++
	item.sequence = q.sequence
	pushTask(&q.tasks, item)
	depth := q.tasks.Len()
	q.mu.Unlock()

	setQueueDepth(depth)
	recordTaskEnqueued(priority, background)
	tracing.RecordSuccess(span)
	q.signal()

	if background {
		q.notify(ctx, Notification{TaskID: taskID, TaskName: taskName, Target: target, Phase: PhaseQueued})
	}
	q.log.Debug("task enqueued", "priority", priority.String(), "queue_length", depth, "task_id", taskID)
	return item.ticket, nil
}

// CancelBackground removes a queued-not-started background task. Running
// tasks are never interrupted; cancelling one returns false.
func (q *Queue) CancelBackground(taskID string) bool {
	if q == nil {
		return false
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}

	q.mu.Lock()
	item, ok := q.background[taskID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	if !removeTask(&q.tasks, item) {
		// Already dequeued; run-to-completion.
		q.mu.Unlock()
		return false
	}
	delete(q.background, taskID)
	depth := q.tasks.Len()
	q.mu.Unlock()

	setQueueDepth(depth)
	item.ticket.complete(dispatchError(ErrCancelled, fmt.Sprintf("background task %q cancelled before start", taskID)))
	q.notify(context.Background(), Notification{TaskID: taskID, TaskName: item.taskName, Target: item.target, Phase: PhaseCancelled})
	q.log.Info("background task cancelled", "task_id", taskID, "task_name", item.taskName)
	return true
}

// Pause stops dequeuing without discarding queued items. Submissions are
// still accepted while paused.
func (q *Queue) Pause() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed || q.manualPause {
		q.mu.Unlock()
		return
	}
	q.manualPause = true
	q.mu.Unlock()
	q.log.Info("request queue paused")
}

// Resume lifts both manual and backpressure pauses.
func (q *Queue) Resume() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	wasPaused := q.manualPause || q.autoPause
	q.manualPause = false
	q.autoPause = false
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
		q.resumeTimer = nil
	}
	if q.breaker != nil {
		q.breaker.Reset()
	}
	q.mu.Unlock()

	if wasPaused {
		q.signal()
		q.log.Info("request queue resumed")
	}
}

// Cleanup is the recovery hook after a detected upstream fault: it resets the
// backpressure valve and lifts an automatic pause. Queued-but-not-started
// tasks stay eligible; a manual Pause stays in force.
func (q *Queue) Cleanup() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	wasAuto := q.autoPause
	q.autoPause = false
	if q.resumeTimer != nil {
		q.resumeTimer.Stop()
		q.resumeTimer = nil
	}
	if q.breaker != nil {
		q.breaker.Reset()
	}
	q.mu.Unlock()

	if wasAuto {
		q.signal()
	}
	q.log.Info("request queue cleaned up after fault", "resumed", wasAuto)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := q.stats
	snapshot.QueueLength = q.tasks.Len()
	return snapshot
}

// HealthCheck reports whether the queue is running.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if q == nil {
		return dispatchError(ErrNotInitialized, "queue is not initialized")
	}
	q.lifecycleMu.Lock()
	running := q.running
	q.lifecycleMu.Unlock()
	if !running {
		return dispatchError(ErrClosed, "queue is not running")
	}
	return nil
}

func (q *Queue) drainLoop(ctx context.Context) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case q.slots <- struct{}{}:
		}

		item := q.nextTask(ctx)
		if item == nil {
			<-q.slots
			return
		}

		q.wg.Add(1)
		go q.runTask(ctx, item)
	}
}

// nextTask blocks until a task is eligible (queue non-empty and not paused)
// or ctx is done.
func (q *Queue) nextTask(ctx context.Context) *queuedTask {
	for {
		q.mu.Lock()
		if !q.manualPause && !q.autoPause && q.tasks.Len() > 0 {
			item := popTask(&q.tasks)
			q.stats.CurrentProcessing++
			depth := q.tasks.Len()
			q.mu.Unlock()
			setQueueDepth(depth)
			return item
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}

func (q *Queue) runTask(ctx context.Context, item *queuedTask) {
	defer q.wg.Done()
	defer func() { <-q.slots }()

	taskCtx, span := tracing.StartTaskSpan(ctx, tracing.SpanOperationTaskRun,
		tracing.WithTaskID(item.taskID),
		tracing.WithTaskName(item.taskName),
		tracing.WithPriority(int(item.priority)),
	)
	defer span.End()

	incrementInFlight()
	start := time.Now()
	err := q.execute(taskCtx, item)
	elapsed := time.Since(start)
	decrementInFlight()

	q.mu.Lock()
	q.stats.CurrentProcessing--
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Processed++
	}
	if item.background {
		delete(q.background, item.taskID)
	}
	q.mu.Unlock()

	observeTaskDuration(item.priority, elapsed.Seconds())
	if err != nil {
		recordTaskProcessed(item.priority, "error")
		tracing.RecordError(span, err)
		q.log.Warn("task failed",
			"task_id", item.taskID,
			"task_name", item.taskName,
			"priority", item.priority.String(),
			"elapsed", elapsed,
			"error", err)
		q.observeFailure(err)
	} else {
		recordTaskProcessed(item.priority, "success")
		tracing.RecordSuccess(span)
		q.observeSuccess()
	}

	item.ticket.complete(err)

	if item.background {
		n := Notification{
			TaskID:   item.taskID,
			TaskName: item.taskName,
			Target:   item.target,
			Elapsed:  elapsed,
		}
		if err != nil {
			n.Phase = PhaseFailed
			n.Detail = err.Error()
		} else {
			n.Phase = PhaseCompleted
		}
		q.notify(context.Background(), n)
	}
}

// execute runs the task body with panic containment and the configured
// timeout. The recover lives inside the function handed to WithTimeout so a
// panicking task is caught on the goroutine it runs on. The body is detached
// from the drain loop's cancellation: once a task started, shutdown waits for
// it instead of interrupting it, and TaskTimeout stays the only bound.
func (q *Queue) execute(ctx context.Context, item *queuedTask) error {
	runCtx := context.WithoutCancel(ctx)

	run := func(c context.Context) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic while running task: %v; stack=%s", rec, string(debug.Stack()))
			}
		}()
		return item.task(c)
	}

	if q.config.TaskTimeout < 0 {
		return run(runCtx)
	}
	return resilience.WithTimeout(runCtx, q.config.TaskTimeout, run)
}

// observeFailure feeds rate-limit failures into the backpressure breaker and
// pauses the queue once the threshold trips.
func (q *Queue) observeFailure(err error) {
	if q.breaker == nil || !errors.Is(err, ErrRateLimited) {
		return
	}
	q.breaker.RecordFailure()
	if q.breaker.State() != resilience.StateOpen {
		return
	}

	q.mu.Lock()
	if q.closed || q.autoPause {
		q.mu.Unlock()
		return
	}
	q.autoPause = true
	cooldown := q.config.Backpressure.Cooldown
	q.resumeTimer = time.AfterFunc(cooldown, q.releaseBackpressure)
	q.mu.Unlock()

	recordBackpressurePause()
	q.log.Warn("rate limit backpressure engaged, pausing queue", "cooldown", cooldown)
}

func (q *Queue) observeSuccess() {
	if q.breaker == nil {
		return
	}
	q.breaker.RecordSuccess()
}

func (q *Queue) releaseBackpressure() {
	q.mu.Lock()
	if q.closed || !q.autoPause {
		q.mu.Unlock()
		return
	}
	q.autoPause = false
	q.resumeTimer = nil
	if q.breaker != nil {
		q.breaker.Reset()
	}
	q.mu.Unlock()

	q.signal()
	q.log.Info("rate limit backpressure released, resuming queue")
}

// signal wakes the drain loop. Non-blocking; the loop re-checks real state
// after every wake.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notify(ctx context.Context, n Notification) {
	if q.sink == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := q.sink.Notify(notifyCtx, n); err != nil {
		q.log.Warn("notification sink failed", "task_id", n.TaskID, "phase", string(n.Phase), "error", err)
	}
}
