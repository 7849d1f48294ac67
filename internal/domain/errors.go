package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies operation failures at the boundary. Validation and
// integrity failures are caller bugs and are never retried by the core.
type ErrorKind string

const (
	ErrorKindBadRequest    ErrorKind = "BadRequest"
	ErrorKindNotFound      ErrorKind = "NotFound"
	ErrorKindConflict      ErrorKind = "Conflict"
	ErrorKindNotAuthorized ErrorKind = "NotAuthorized"
	ErrorKindGeneric       ErrorKind = "Generic"
)

// Error is the single error type crossing the engine boundary. Message always
// names the offending field path or entity ids when the failure is specific.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NewBadRequest reports malformed or invalid content, failed reference or
// required-field validation, or an invalid query.
func NewBadRequest(format string, args ...any) *Error {
	return &Error{Kind: ErrorKindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound reports an unknown entity id, version or schema type.
func NewNotFound(format string, args ...any) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewConflict reports a caller-supplied id colliding with an existing,
// different entity.
func NewConflict(format string, args ...any) *Error {
	return &Error{Kind: ErrorKindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewNotAuthorized reports an auth-key mismatch.
func NewNotAuthorized(format string, args ...any) *Error {
	return &Error{Kind: ErrorKindNotAuthorized, Message: fmt.Sprintf(format, args...)}
}

// NewGeneric wraps an unexpected adapter or storage failure.
func NewGeneric(cause error, format string, args ...any) *Error {
	return &Error{Kind: ErrorKindGeneric, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the error kind, defaulting to Generic for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindGeneric
}

// IsBadRequest reports whether err is a BadRequest error.
func IsBadRequest(err error) bool { return KindOf(err) == ErrorKindBadRequest }

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return KindOf(err) == ErrorKindNotFound }

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == ErrorKindConflict }

// IsNotAuthorized reports whether err is a NotAuthorized error.
func IsNotAuthorized(err error) bool { return KindOf(err) == ErrorKindNotAuthorized }
