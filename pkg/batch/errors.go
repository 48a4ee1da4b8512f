package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid workers or configuration.
	ErrValidation = errors.New("batch validation error")
	// ErrNotInitialized classifies use of a nil processor.
	ErrNotInitialized = errors.New("batch not initialized")
)

func batchError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
