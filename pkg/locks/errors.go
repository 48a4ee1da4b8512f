package locks

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid configuration or arguments.
	ErrValidation = errors.New("locks validation error")
	// ErrConflict classifies releases rejected because the lock changed hands.
	ErrConflict = errors.New("locks conflict")
	// ErrRetryable classifies transient backend failures safe to retry.
	ErrRetryable = errors.New("locks retryable error")
	// ErrNotInitialized classifies use of a nil manager or provider.
	ErrNotInitialized = errors.New("locks not initialized")
	// ErrClosed classifies operations on a closed provider.
	ErrClosed = errors.New("locks closed")
)

func locksError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
