package daterange

import (
	"errors"
	"fmt"
)

// Validation error kinds. Match them with errors.Is.
var (
	ErrInvalidDateFormat    = errors.New("invalid date format")
	ErrMissingDateParameter = errors.New("missing date parameter")
	ErrInvalidRange         = errors.New("invalid date range")
)

// ValidationError describes why request parameters could not be resolved.
type ValidationError struct {
	Kind  error
	Field string
	Value string
	Err   error
}

// Error returns a message safe to show to API callers.
func (e *ValidationError) Error() string {
	switch e.Kind {
	case ErrInvalidDateFormat:
		return fmt.Sprintf("Invalid date format for '%s'. Use YYYY-MM-DD.", e.Field)
	case ErrMissingDateParameter:
		return fmt.Sprintf("Missing '%s' date parameter. Both 'from' and 'to' are required.", e.Field)
	case ErrInvalidRange:
		return "'from' date must not be after 'to' date."
	default:
		return "invalid date parameters"
	}
}

// Is reports whether target is the kind of this error.
func (e *ValidationError) Is(target error) bool {
	return e.Kind == target
}

// Unwrap exposes the parse error, if any.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
