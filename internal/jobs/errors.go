package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSource     = errors.New("invalid source")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrQueueFull         = errors.New("pipeline queue is full")
)

// InvalidSourceError names the intake field that failed validation.
type InvalidSourceError struct {
	Field  string
	Reason string
}

func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid source: %s: %s", e.Field, e.Reason)
}

func (e *InvalidSourceError) Is(target error) bool {
	return target == ErrInvalidSource
}

func invalid(field, reason string) error {
	return &InvalidSourceError{Field: field, Reason: reason}
}
