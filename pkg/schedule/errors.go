package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies entity/config validation failures.
	ErrValidation = errors.New("schedule validation error")
	// ErrConflict classifies duplicate live timers for one entity.
	ErrConflict = errors.New("schedule conflict")
	// ErrNotFound classifies entities missing from the store.
	ErrNotFound = errors.New("schedule entity not found")
	// ErrRetryable classifies transient store failures safe to retry.
	ErrRetryable = errors.New("schedule retryable error")
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("schedule invalid argument")
	// ErrNotInitialized classifies use of a nil scheduler or store.
	ErrNotInitialized = errors.New("schedule not initialized")
	// ErrClosed classifies operations on a stopped scheduler or closed store.
	ErrClosed = errors.New("schedule closed")
)

func scheduleError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
