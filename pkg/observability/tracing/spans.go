// Package tracing provides OpenTelemetry tracing for the coordination core.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

// Span operation constants for the coordination components
const (
	// SpanOperationTaskEnqueue represents putting a task on the request queue
	SpanOperationTaskEnqueue SpanOperation = "queue.enqueue"
	// SpanOperationTaskRun represents executing a dequeued task
	SpanOperationTaskRun SpanOperation = "queue.run"

	// SpanOperationScheduleArm represents arming a timer for an entity
	SpanOperationScheduleArm SpanOperation = "schedule.arm"
	// SpanOperationScheduleResolve represents resolving a fired entity
	SpanOperationScheduleResolve SpanOperation = "schedule.resolve"
	// SpanOperationScheduleRecover represents the boot recovery pass
	SpanOperationScheduleRecover SpanOperation = "schedule.recover"

	// SpanOperationStoreGet represents reading an entity from durable storage
	SpanOperationStoreGet SpanOperation = "store.get"
	// SpanOperationStorePut represents writing an entity to durable storage
	SpanOperationStorePut SpanOperation = "store.put"
	// SpanOperationStoreList represents listing pending entities
	SpanOperationStoreList SpanOperation = "store.list"
	// SpanOperationStoreUpdateStatus represents a status transition write
	SpanOperationStoreUpdateStatus SpanOperation = "store.update_status"
)

// StartTaskSpan creates a span for a queue operation. It carries
// queue-specific attributes like task id, task name and priority.
func StartTaskSpan(ctx context.Context, operation SpanOperation, opts ...TaskSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("dispatch")

	spanOpts := &taskSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("queue.operation", string(operation)),
		},
	}

	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("QUEUE %s", operation)
	if spanOpts.taskName != "" {
		spanName = fmt.Sprintf("QUEUE %s %s", operation, spanOpts.taskName)
	}

	spanKind := trace.SpanKindProducer
	if operation == SpanOperationTaskRun {
		spanKind = trace.SpanKindConsumer
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(spanKind))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// TaskSpanOption configures a queue span.
type TaskSpanOption func(*taskSpanOptions)

type taskSpanOptions struct {
	taskName   string
	attributes []attribute.KeyValue
}

// WithTaskID sets the task id for the span.
func WithTaskID(id string) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("queue.task_id", id))
	}
}

// WithTaskName sets the human-readable task name.
func WithTaskName(name string) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.taskName = name
		opts.attributes = append(opts.attributes, attribute.String("queue.task_name", name))
	}
}

// WithPriority sets the priority band of the task.
func WithPriority(priority int) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("queue.priority", priority))
	}
}

// WithQueueLength records the queue depth at span start.
func WithQueueLength(length int) TaskSpanOption {
	return func(opts *taskSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Int("queue.length", length))
	}
}

// StartScheduleSpan creates a span for a scheduler operation, carrying the
// entity id, kind and stage.
func StartScheduleSpan(ctx context.Context, operation SpanOperation, opts ...ScheduleSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("schedule")

	spanOpts := &scheduleSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("schedule.operation", string(operation)),
		},
	}

	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("SCHED %s", operation)
	if spanOpts.entityID != "" {
		spanName = fmt.Sprintf("SCHED %s %s", operation, spanOpts.entityID)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// ScheduleSpanOption configures a scheduler span.
type ScheduleSpanOption func(*scheduleSpanOptions)

type scheduleSpanOptions struct {
	entityID   string
	attributes []attribute.KeyValue
}

// WithEntityID sets the scheduled entity id.
func WithEntityID(id string) ScheduleSpanOption {
	return func(opts *scheduleSpanOptions) {
		opts.entityID = id
		opts.attributes = append(opts.attributes, attribute.String("schedule.entity_id", id))
	}
}

// WithEntityKind sets the entity kind (e.g. "process", "vote").
func WithEntityKind(kind string) ScheduleSpanOption {
	return func(opts *scheduleSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("schedule.entity_kind", kind))
	}
}

// WithStage sets the fire stage being resolved (reveal or final).
func WithStage(stage string) ScheduleSpanOption {
	return func(opts *scheduleSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("schedule.stage", stage))
	}
}

// WithOverdue marks a resolution that fired past its expiry, e.g. during
// boot recovery.
func WithOverdue(overdue bool) ScheduleSpanOption {
	return func(opts *scheduleSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.Bool("schedule.overdue", overdue))
	}
}

// StartStoreSpan creates a span for an entity store operation.
func StartStoreSpan(ctx context.Context, operation SpanOperation, opts ...StoreSpanOption) (context.Context, trace.Span) {
	tracer := otel.Tracer("entitystore")

	spanOpts := &storeSpanOptions{
		attributes: []attribute.KeyValue{
			attribute.String("store.operation", string(operation)),
		},
	}

	for _, opt := range opts {
		opt(spanOpts)
	}

	spanName := fmt.Sprintf("STORE %s", operation)
	if spanOpts.backend != "" {
		spanName = fmt.Sprintf("STORE %s %s", operation, spanOpts.backend)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(spanOpts.attributes...)

	return ctx, span
}

// StoreSpanOption configures an entity store span.
type StoreSpanOption func(*storeSpanOptions)

type storeSpanOptions struct {
	backend    string
	attributes []attribute.KeyValue
}

// WithStoreBackend sets the backing engine (e.g. "redis", "mongodb", "postgres").
func WithStoreBackend(backend string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.backend = backend
		opts.attributes = append(opts.attributes, attribute.String("store.backend", backend))
	}
}

// WithStoreEntityID sets the entity id the operation touches.
func WithStoreEntityID(id string) StoreSpanOption {
	return func(opts *storeSpanOptions) {
		opts.attributes = append(opts.attributes, attribute.String("store.entity_id", id))
	}
}

// RecordError records an error on the span and flips its status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks the span status OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
