package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Task is one executable unit of work, usually a closure around a single
// outbound API call. A non-nil error marks the task failed; the queue never
// retries on its own.
type Task func(ctx context.Context) error

// Priority orders queued tasks. Higher values dequeue sooner; within one band
// tasks run in submission order.
type Priority int

const (
	// PriorityBackground is the default band for background housekeeping.
	PriorityBackground Priority = 1
	// PriorityLow is for deferrable work.
	PriorityLow Priority = 2
	// PriorityNormal is for ordinary interactive work.
	PriorityNormal Priority = 3
	// PriorityHigh is for time-sensitive work such as entity resolution.
	PriorityHigh Priority = 4
	// PriorityCritical preempts everything else that has not started.
	PriorityCritical Priority = 5
)

// Valid reports whether the priority falls inside the accepted band range.
func (p Priority) Valid() bool {
	return p >= PriorityBackground && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "invalid"
	}
}

// Ticket is the future handed back for a submitted task. Done closes once the
// task finished (or was cancelled or dropped at shutdown); Err is valid after
// Done closes.
type Ticket struct {
	id   string
	done chan struct{}

	mu  sync.Mutex
	err error
}

func newTicket(id string) *Ticket {
	return &Ticket{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the ticket's task id. Empty for plain foreground submissions.
func (t *Ticket) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// Done returns a channel closed when the task has finished.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the task outcome. Only meaningful after Done is closed.
func (t *Ticket) Err() error {
	if t == nil {
		return dispatchError(ErrNotInitialized, "ticket is not initialized")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the task finishes or ctx is done, returning the task
// outcome or the context error.
func (t *Ticket) Wait(ctx context.Context) error {
	if t == nil {
		return dispatchError(ErrNotInitialized, "ticket is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.Err()
	}
}

func (t *Ticket) complete(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	close(t.done)
}

// BackgroundTask describes a long-running submission tracked by id. Repeat
// submission of a live id is rejected, and lifecycle phases are reported to
// the queue's notification sink in addition to the returned ticket.
type BackgroundTask struct {
	// Task is the work body. Required.
	Task Task
	// TaskID identifies the task for de-duplication and cancellation.
	// Defaults to a generated uuid.
	TaskID string
	// TaskName is a human-readable label used in logs and notifications.
	TaskName string
	// Target names where progress should be reported, for example a channel
	// or user handle. Passed through to the sink untouched.
	Target string
	// Priority defaults to PriorityBackground.
	Priority Priority
}

// Phase labels a background task lifecycle notification.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Notification reports a background task lifecycle change. The queue does not
// format messages; sinks decide how to present the phase to the target.
type Notification struct {
	TaskID   string
	TaskName string
	Target   string
	Phase    Phase
	// Detail carries the failure message for PhaseFailed, empty otherwise.
	Detail string
	// Elapsed is the task run time for terminal phases, zero for PhaseQueued.
	Elapsed time.Duration
}

// NotificationSink receives background task notifications. Sink errors are
// logged by the queue and never affect task outcomes.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationSinkFunc adapts a function to the NotificationSink interface.
type NotificationSinkFunc func(ctx context.Context, n Notification) error

func (f NotificationSinkFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Stats is a point-in-time snapshot of queue counters. Mutated only by the
// queue; callers receive a copy.
type Stats struct {
	// QueueLength is the number of queued, not yet started tasks.
	QueueLength int
	// CurrentProcessing is the number of tasks running right now.
	CurrentProcessing int
	// Processed is the cumulative count of tasks that finished successfully.
	Processed int
	// Failed is the cumulative count of tasks that finished with an error.
	Failed int
}

const (
	DefaultMaxConcurrent = 1
	DefaultTaskTimeout   = 30 * time.Second
	DefaultShutdownGrace = 10 * time.Second

	// maxConcurrentCeiling caps the slot count; the queue exists to serialize
	// calls against a strict upstream rate window.
	maxConcurrentCeiling = 3
)

// BackpressureConfig tunes the automatic pause on repeated rate-limit
// failures. Threshold 0 disables the valve.
type BackpressureConfig struct {
	// Threshold is the consecutive ErrRateLimited failure count that pauses
	// the queue.
	Threshold int
	// Cooldown is how long the queue stays paused before resuming on its own.
	Cooldown time.Duration
}

const DefaultBackpressureCooldown = 30 * time.Second

func (c *BackpressureConfig) normalize() {
	if c.Threshold < 0 {
		c.Threshold = 0
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultBackpressureCooldown
	}
}

// Config tunes queue behavior. The zero value is usable: one concurrent slot
// against the strictest rate-limit assumption.
type Config struct {
	// MaxConcurrent is the concurrency ceiling, clamped to 1..3. Default 1.
	MaxConcurrent int
	// TaskTimeout bounds a single task run. Default 30s; negative disables.
	TaskTimeout time.Duration
	// ShutdownGrace bounds how long Stop waits for in-flight tasks when the
	// caller's context carries no earlier deadline. Default 10s.
	ShutdownGrace time.Duration
	// Backpressure configures the automatic rate-limit pause.
	Backpressure BackpressureConfig
}

func (c *Config) normalize() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxConcurrent > maxConcurrentCeiling {
		c.MaxConcurrent = maxConcurrentCeiling
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	c.Backpressure.normalize()
}

func normalizeTaskName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "task"
	}
	return trimmed
}
