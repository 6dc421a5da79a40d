// Package apperr defines the error kinds shared by the domain packages.
//
// Domain packages declare their own sentinels and typed errors; each of them
// reports its kind through errors.Is so the HTTP layer can map a failure to a
// response without knowing every domain package.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kinds.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrExternal   = errors.New("external service failure")
	ErrSecurity   = errors.New("security check failed")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// NotFound returns a sentinel of kind ErrNotFound with the given message.
func NotFound(msg string) error { return &kindError{kind: ErrNotFound, msg: msg} }

// Conflict returns a sentinel of kind ErrConflict with the given message.
func Conflict(msg string) error { return &kindError{kind: ErrConflict, msg: msg} }

// Security returns a sentinel of kind ErrSecurity with the given message.
func Security(msg string) error { return &kindError{kind: ErrSecurity, msg: msg} }

// ValidationError reports invalid caller input. Message is safe to show to
// the shopper verbatim.
type ValidationError struct {
	Field   string
	Message string
}

// Invalid returns a *ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExternalError wraps a failure of a payment gateway or the carrier.
type ExternalError struct {
	Service string
	Err     error
}

// External wraps err as a failure of the named external service.
func External(service string, err error) error {
	return &ExternalError{Service: service, Err: err}
}

func (e *ExternalError) Error() string { return e.Service + ": " + e.Err.Error() }

func (e *ExternalError) Unwrap() error { return e.Err }

func (e *ExternalError) Is(target error) bool { return target == ErrExternal }
