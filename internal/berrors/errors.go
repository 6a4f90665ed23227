// Package berrors defines BoxLite's error taxonomy: a small set of
// kinds, not a class hierarchy, so callers can branch on the category
// without string matching.
package berrors

import (
	"errors"
	"fmt"
)

// Kind is a coarse error category used by callers to decide how to react
// (retry, surface to user, log-and-continue) without string matching.
type Kind string

const (
	Config          Kind = "config"
	NotFound        Kind = "not_found"
	InvalidState    Kind = "invalid_state"
	InvalidArgument Kind = "invalid_argument"
	Storage         Kind = "storage"
	Engine          Kind = "engine"
	Network         Kind = "network"
	Rpc             Kind = "rpc"
	RpcTransport    Kind = "rpc_transport"
	Portal          Kind = "portal"
	Execution       Kind = "execution"
	Internal        Kind = "internal"
)

// Error wraps an underlying cause with a Kind and a message, preserving
// the wrapped error for errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a Kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, message string, cause error) error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or Internal if err doesn't carry one.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Internal
}
