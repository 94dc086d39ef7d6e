package order

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates the requested step is not reachable from
	// the order's current step.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateOrder indicates the user already has an open order for the
	// same domain.
	ErrDuplicateOrder = errors.New("duplicate order")

	// ErrOrderClosed indicates the order is already in a terminal step.
	ErrOrderClosed = errors.New("order closed")
)

// ValidationError reports malformed user input with a field-level reason. It
// is surfaced to the user as a corrective prompt, never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
