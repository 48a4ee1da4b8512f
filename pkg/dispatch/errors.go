package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid tasks, priorities, or configuration.
	ErrValidation = errors.New("dispatch validation error")
	// ErrConflict classifies duplicate background task ids and double starts.
	ErrConflict = errors.New("dispatch conflict")
	// ErrNotInitialized classifies use of a nil or unconstructed queue.
	ErrNotInitialized = errors.New("dispatch not initialized")
	// ErrClosed classifies submissions to a stopped queue.
	ErrClosed = errors.New("dispatch queue closed")
	// ErrCancelled classifies background tasks removed before they started.
	ErrCancelled = errors.New("dispatch task cancelled")
	// ErrRateLimited classifies task failures caused by the upstream API
	// rejecting calls for rate limiting. Tasks return or wrap this sentinel so
	// the queue's backpressure valve can react; otherwise it counts as an
	// ordinary task failure.
	ErrRateLimited = errors.New("dispatch rate limited")
)

func dispatchError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
