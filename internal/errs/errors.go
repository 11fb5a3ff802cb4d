// Package errs defines the error taxonomy shared across the engine.
//
// ValidationError and NotFoundError are caller-facing and recoverable:
// they are raised before any write, so a failed operation never leaves
// partial state behind. Everything else is treated as infrastructure
// failure and handled by the worker's retry policy.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports malformed or inconsistent input. Field names
// the offending request field where one applies.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Validation creates a ValidationError without a field reference.
func Validation(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// Validationf creates a ValidationError for a specific field.
func Validationf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown entity. Surfaces as a 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NotFound creates a NotFoundError for the given resource and id.
func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConflictError reports an operation that is invalid in the entity's
// current state (e.g. editing splits on a reconciled transaction).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Conflict creates a ConflictError.
func Conflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// Internal wraps an unexpected error with a stack trace for logging.
func Internal(err error, message string) error {
	return errors.Wrap(err, message)
}
