// Package apperr holds the error kinds shared across the service. Callers
// wrap them with fmt.Errorf("...: %w") and test with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing user input.
	ErrValidation = errors.New("validation failed")
	// ErrExternal marks a failed call to the store, routing or geocoding.
	// These are logged and surfaced, never retried.
	ErrExternal = errors.New("external service failed")
	// ErrUnavailable marks a capability that cannot be served right now,
	// such as booking with no ambulance available.
	ErrUnavailable = errors.New("unavailable")
)

func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// External wraps err so it matches both ErrExternal and err itself.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrExternal, err))
}
