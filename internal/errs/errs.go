// Package errs defines the error taxonomy shared across the orchestration
// core: validation, not-found, state-conflict, timeout, external and fatal
// failures, each mapped to a 4xx/5xx-equivalent by callers at the transport
// boundary.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport-boundary mapping and logging.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindStateConflict Kind = "state_conflict"
	KindTimeout      Kind = "timeout"
	KindExternal     Kind = "external"
	KindFatal        Kind = "fatal"
)

// Error is a structured, classified error carrying a caller-safe message.
// Cause, when present, is never surfaced to callers directly (ExternalError
// messages are sanitised per spec ch.7) but is available via Unwrap for
// logging.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func Validation(msg string) *Error             { return new(KindValidation, msg, nil) }
func Validationf(format string, a ...any) *Error { return new(KindValidation, fmt.Sprintf(format, a...), nil) }
func NotFound(msg string) *Error               { return new(KindNotFound, msg, nil) }
func NotFoundf(format string, a ...any) *Error { return new(KindNotFound, fmt.Sprintf(format, a...), nil) }
func StateConflict(msg string) *Error          { return new(KindStateConflict, msg, nil) }
func StateConflictf(format string, a ...any) *Error {
	return new(KindStateConflict, fmt.Sprintf(format, a...), nil)
}
func Timeout(msg string) *Error { return new(KindTimeout, msg, nil) }
func External(msg string, cause error) *Error {
	return new(KindExternal, msg, cause)
}
func Fatal(msg string, cause error) *Error {
	return new(KindFatal, msg, cause)
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sanitized returns a message safe to surface to a caller: ExternalError and
// Fatal causes are redacted to the classification only, everything else
// passes through verbatim.
func Sanitized(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	switch e.Kind {
	case KindExternal:
		return "an external dependency failed"
	case KindFatal:
		return "an internal invariant was violated"
	default:
		return e.Error()
	}
}
