package debate

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks a debate that cannot be constructed or run as configured.
	ErrConfig = errors.New("invalid debate configuration")
	// ErrBackend marks a turn whose generation capability failed.
	ErrBackend = errors.New("generation failed")
	// ErrTurnOrder is returned when a turn is requested for an agent out of round-robin order.
	ErrTurnOrder = errors.New("agent index out of turn")
)

// BackendError describes a failed generation call.
type BackendError struct {
	Agent string
	Turn  int
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("turn %d (%s): %v", e.Turn, e.Agent, e.Err)
}

// Unwrap exposes both ErrBackend and the underlying cause.
func (e *BackendError) Unwrap() []error {
	return []error{ErrBackend, e.Err}
}
