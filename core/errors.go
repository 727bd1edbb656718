package core

import "github.com/pkg/errors"

// ErrVersionConflict is returned by repositories when a record changed since it was read.
var ErrVersionConflict = errors.New("record was modified concurrently")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// NotFoundError wraps lookups of records that do not exist (or are not in the expected state).
type NotFoundError struct {
	Err error
}

func NewNotFoundError(err error) error {
	return &NotFoundError{err}
}

func (err NotFoundError) Error() string { return err.Err.Error() }

// ConflictError is surfaced to callers that may retry: stale versions, duplicate submissions...
type ConflictError struct {
	Err error
}

func NewConflictError(err error) error {
	return &ConflictError{err}
}

func (err ConflictError) Error() string { return err.Err.Error() }

// DependencyError reports a collaborator (roster, database) that could not be reached.
// Nothing was written when it is returned.
type DependencyError struct {
	Err       error
	Retryable bool
}

func NewDependencyError(err error, retryable bool) error {
	return &DependencyError{err, retryable}
}

func (err DependencyError) Error() string { return err.Err.Error() }

// InvariantError means stored data broke a rule that the code never breaks.
// It is reported, never corrected.
type InvariantError struct {
	Err error
}

func NewInvariantError(err error) error {
	return &InvariantError{err}
}

func (err InvariantError) Error() string { return "invariant violation: " + err.Err.Error() }

// IsNotFound, IsConflict... look through errors.Wrap layers.

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

func IsDependency(err error) bool {
	_, ok := errors.Cause(err).(*DependencyError)
	return ok
}

func IsInvariant(err error) bool {
	_, ok := errors.Cause(err).(*InvariantError)
	return ok
}

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
