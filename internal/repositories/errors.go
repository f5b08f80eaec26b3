package repositories

import "fmt"

// StoreErrorCode enumerates repository failure causes for every store implementation.
type StoreErrorCode string

const (
	// StoreErrorNotFound indicates the requested record does not exist.
	StoreErrorNotFound StoreErrorCode = "not_found"
	// StoreErrorConflict indicates the write lost an optimistic concurrency race.
	StoreErrorConflict StoreErrorCode = "conflict"
	// StoreErrorUnavailable indicates the backing store cannot serve the request.
	StoreErrorUnavailable StoreErrorCode = "unavailable"
	// StoreErrorInternal covers backend failures with no more specific classification.
	StoreErrorInternal StoreErrorCode = "internal"
)

// StoreError wraps store failures with machine readable codes and satisfies RepositoryError.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the record was missing.
func (e *StoreError) IsNotFound() bool { return e != nil && e.Code == StoreErrorNotFound }

// IsConflict reports whether the write conflicted with a concurrent update.
func (e *StoreError) IsConflict() bool { return e != nil && e.Code == StoreErrorConflict }

// IsUnavailable reports whether the store is unavailable.
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }

// NewStoreError constructs a typed store error.
func NewStoreError(op string, code StoreErrorCode, message string, err error) *StoreError {
	if message == "" {
		message = string(code)
	}
	return &StoreError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError reports a missing record.
func NewNotFoundError(op, message string) *StoreError {
	return NewStoreError(op, StoreErrorNotFound, message, nil)
}

// NewConflictError reports a lost optimistic concurrency race.
func NewConflictError(op, message string) *StoreError {
	return NewStoreError(op, StoreErrorConflict, message, nil)
}
