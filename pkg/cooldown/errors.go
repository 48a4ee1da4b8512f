package cooldown

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies invalid configuration or arguments.
	ErrValidation = errors.New("cooldown validation error")
	// ErrConflict classifies a janitor start while one is already running.
	ErrConflict = errors.New("cooldown conflict")
	// ErrNotInitialized classifies use of a nil manager.
	ErrNotInitialized = errors.New("cooldown not initialized")
)

func cooldownError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
