// Package errs defines the error taxonomy shared by every htm component.
//
// Every operation that can fail in a way callers need to distinguish
// returns (or wraps) an *Error carrying one of the Kind values below,
// instead of relying on exceptions or sentinel strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of retry policy and surfacing
// to callers. It is not a replacement for Go's error values; it is metadata
// carried alongside them.
type Kind int

const (
	// KindInternal covers invariant violations and bugs. Default kind for
	// errors that were never classified.
	KindInternal Kind = iota
	// KindValidation covers invalid input shape, size, or pattern.
	KindValidation
	// KindNotFound covers an id that is absent or soft-deleted when the
	// caller did not opt into seeing deleted rows.
	KindNotFound
	// KindConflict covers a unique-constraint violation observed during a race.
	KindConflict
	// KindServiceUnavailable covers a downstream provider being down or a
	// circuit breaker being open.
	KindServiceUnavailable
	// KindResourceUnavailable covers pool exhaustion or a deadline exceeded
	// while acquiring a resource.
	KindResourceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindResourceUnavailable:
		return "resource_unavailable"
	default:
		return "internal"
	}
}

// Error is a classified, wrappable error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(k Kind, format string, args ...any) *Error {
	var cause error
	// If the last arg is an error, peel it off as the wrapped cause so
	// callers can write errs.Internal("query failed", err) naturally.
	if len(args) > 0 {
		if err, ok := args[len(args)-1].(error); ok {
			cause = err
			args = args[:len(args)-1]
		}
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: k, Msg: msg, Err: cause}
}

func Validation(format string, args ...any) *Error {
	return newError(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Error {
	return newError(KindServiceUnavailable, format, args...)
}

func ResourceUnavailable(format string, args ...any) *Error {
	return newError(KindResourceUnavailable, format, args...)
}

func Internal(format string, args ...any) *Error {
	return newError(KindInternal, format, args...)
}

// KindOf unwraps err looking for a classified *Error and returns its Kind.
// Unclassified errors (including nil... callers should not call KindOf(nil))
// default to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified with the given kind.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
