// Package cverr defines the typed error taxonomy shared by every component
// of the core. Every error the core returns to a caller can be classified
// into one of a small set of Kinds so that an (out-of-scope) transport layer
// can map it onto a status code without inspecting error strings.
package cverr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for the benefit of callers that need to decide
// how to react (retry, surface to the end user, translate to a status code).
type Kind int

// The error taxonomy from the design's error-handling section.
const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindBadRequest
	KindUnavailable
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindBadRequest:
		return "bad_request"
	case KindUnavailable:
		return "unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// HTTPStatus returns the HTTP-style status code a transport layer would use
// for this Kind. The core itself never serves HTTP; this is purely advisory
// for whatever binds it to a transport.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return 404
	case KindForbidden:
		return 403
	case KindConflict:
		return 409
	case KindBadRequest:
		return 400
	case KindUnavailable:
		return 503
	case KindInternal:
		return 500
	default:
		return 500
	}
}

// coreError is the concrete error type produced by this package. It is
// never exported directly; callers interact with it through Wrap/New/KindOf.
type coreError struct {
	kind Kind
	err  error
}

func (e *coreError) Error() string {
	return e.err.Error()
}

func (e *coreError) Unwrap() error {
	return e.err
}

// New creates a new error of the given Kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &coreError{kind: kind, err: errors.New(fmt.Sprintf(format, args...))}
}

// Wrap attaches a Kind to an existing error, preserving its cause chain.
// If err is nil, Wrap returns nil.
func Wrap(err error, kind Kind, message string) error {
	if err == nil {
		return nil
	}

	return &coreError{kind: kind, err: errors.Wrap(err, message)}
}

// Wrapf is like Wrap with a format string.
func Wrapf(err error, kind Kind, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return &coreError{kind: kind, err: errors.Wrap(err, fmt.Sprintf(format, args...))}
}

// KindOf returns the Kind attached to err, or KindUnknown if err was not
// produced by this package (or is nil).
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *coreError
	if errors.As(err, &ce) {
		return ce.kind
	}

	return KindUnknown
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NotFound, Forbidden, Conflict, BadRequest, Unavailable, Internal are
// convenience constructors for the common case of building a fresh error of
// a given kind without an existing cause.
func NotFound(format string, args ...interface{}) error {
	return New(KindNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) error {
	return New(KindForbidden, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return New(KindConflict, format, args...)
}

func BadRequest(format string, args ...interface{}) error {
	return New(KindBadRequest, format, args...)
}

func Unavailable(format string, args ...interface{}) error {
	return New(KindUnavailable, format, args...)
}

func Internal(format string, args ...interface{}) error {
	return New(KindInternal, format, args...)
}
