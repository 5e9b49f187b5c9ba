// Package apperr defines the error kinds the HTTP layer maps to status
// codes. Everything that is not one of these is treated as internal.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports a bad or missing request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DataUnavailableError reports an upstream source that could not be reached.
type DataUnavailableError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *DataUnavailableError) Error() string {
	if e.Err == nil {
		return e.Source + " unavailable"
	}
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

func Unavailable(source string, retryable bool, err error) error {
	return &DataUnavailableError{Source: source, Retryable: retryable, Err: err}
}

type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// InternalAggregationError reports an unexpected shape during aggregation.
// The message is logged, never sent to clients.
type InternalAggregationError struct {
	Op  string
	Err error
}

func (e *InternalAggregationError) Error() string {
	return fmt.Sprintf("aggregation %s: %v", e.Op, e.Err)
}

func (e *InternalAggregationError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
