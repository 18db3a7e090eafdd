package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested session or booking does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidState is returned when an operation targets a booking or session
// whose state does not permit it.
var ErrInvalidState = errors.New("invalid state")

// ErrInvalidInput is returned for malformed arguments such as an empty id.
var ErrInvalidInput = errors.New("invalid input")

// ErrInvariantViolation marks an internal consistency failure.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrStorage marks a transient store failure that callers may retry.
var ErrStorage = errors.New("storage failure")

// ErrTimeout is returned when an operation did not complete before its
// deadline. No mutation took effect.
var ErrTimeout = errors.New("operation timed out")

// InvariantError describes which invariant would have been broken.
type InvariantError struct {
	Rule   string
	Detail string
}

// NewInvariantError creates an InvariantError for the given rule.
func NewInvariantError(rule, format string, args ...any) *InvariantError {
	return &InvariantError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s: %s", e.Rule, e.Detail)
}

// Is matches ErrInvariantViolation.
func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}

// StorageError wraps a failure of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is matches ErrStorage.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// IsInvariantViolation returns true if err is or wraps an InvariantError.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
