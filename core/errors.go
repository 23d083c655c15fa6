package core

import "github.com/pkg/errors"

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

// PermissionError is returned when the acting user's role does not allow
// the attempted operation (e.g. a student messaging the office).
type PermissionError struct {
	message string
}

func NewPermissionError(msg string) error {
	return &PermissionError{message: msg}
}

func (err PermissionError) Error() string { return err.message }

// NotFoundError is returned when a referenced entity does not exist.
type NotFoundError struct {
	message string
}

func NewNotFoundError(msg string) error {
	return &NotFoundError{message: msg}
}

func (err NotFoundError) Error() string { return err.message }

// StorageError wraps an object-storage failure during attachment upload.
type StorageError struct {
	Err error
}

func NewStorageError(err error) error {
	return &StorageError{Err: err}
}

func (err StorageError) Error() string {
	if err.Err == nil {
		return "storage error"
	}
	return "storage error: " + err.Err.Error()
}

func (err StorageError) Unwrap() error { return err.Err }

// DatabaseError wraps a persistence-layer failure.
type DatabaseError struct {
	Err error
}

func NewDatabaseError(err error) error {
	return &DatabaseError{Err: err}
}

func (err DatabaseError) Error() string {
	if err.Err == nil {
		return "database error"
	}
	return "database error: " + err.Err.Error()
}

func (err DatabaseError) Unwrap() error { return err.Err }

// InvalidStateError is returned on illegal state transitions, e.g. cancelling
// an already-sent scheduled message.
type InvalidStateError struct {
	message string
}

func NewInvalidStateError(msg string) error {
	return &InvalidStateError{message: msg}
}

func (err InvalidStateError) Error() string { return err.message }

func IsPermissionError(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

func IsNotFoundError(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsInvalidStateError(err error) bool {
	_, ok := errors.Cause(err).(*InvalidStateError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string { return s.message }

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
