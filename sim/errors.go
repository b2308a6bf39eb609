package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned by every blocking operation that was released
	// by a cancelled context or a stopped clock instead of its own condition.
	ErrCancelled = errors.New("operation cancelled")

	// ErrClockStopped is returned to waiters released by Clock.Shutdown.
	// It satisfies errors.Is(err, ErrCancelled).
	ErrClockStopped = fmt.Errorf("%w: clock stopped", ErrCancelled)

	// ErrInvalidConfig is wrapped by constructors and FarmConfig.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")

	ErrInvalidAmount  = errors.New("invalid amount")
	ErrUnknownSpecies = errors.New("unknown species")
)

// cancelled wraps a context error so callers can match ErrCancelled and the
// original context cause at the same time.
func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
