// Package wireerr classifies internal errors into the small set of kinds the
// service layer exposes on the wire.
package wireerr

import (
	"errors"
	"fmt"
)

// Kind is one of the wire-level error categories a client can branch on.
type Kind string

const (
	NotFound           Kind = "NotFound"
	InvalidArgument    Kind = "InvalidArgument"
	FailedPrecondition Kind = "FailedPrecondition"
	AlreadyExists      Kind = "AlreadyExists"
	PermissionDenied   Kind = "PermissionDenied"
	Internal           Kind = "Internal"
	Unavailable        Kind = "Unavailable"
)

// Error is a classified error carrying a wire Kind and a human message that,
// where applicable, embeds the set of valid options (see provider errors).
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a classified error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error under kind, preserving it as the cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// As extracts a *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the wire Kind of err: the Kind of the *Error it wraps, else
// the WireKind of any wrapped error that reports one (such as git's own error
// type), else Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	var wk interface{ WireKind() Kind }
	if errors.As(err, &wk) {
		return wk.WireKind()
	}
	return Internal
}
