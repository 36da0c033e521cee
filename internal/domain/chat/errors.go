package chat

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the chat client can surface. Each failure
// path emits exactly one prose line tagged with its kind at default
// verbosity.
type Kind string

const (
	KindTransport     Kind = "Transport"
	KindAuth          Kind = "Auth"
	KindRateLimited   Kind = "RateLimited"
	KindServer        Kind = "Server"
	KindEgressDenied  Kind = "EgressDenied"
	KindDecryptFailed Kind = "DecryptFailed"
	KindParseFailed   Kind = "ParseFailed"
	KindToolTimeout   Kind = "ToolTimeout"
	KindToolRuntime   Kind = "ToolRuntime"
	KindCancelled     Kind = "Cancelled"
	KindUsage         Kind = "Usage"
)

// Error is the structured error type used across the client.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a structured error with the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds a structured error wrapping a cause.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the kind of err, or empty string for untyped errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ExitCode maps an error to the process exit code contract:
// 0 success, 2 usage, 3 decrypt failure, 4 egress denied, 5 transport/API.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindUsage:
		return 2
	case KindDecryptFailed:
		return 3
	case KindEgressDenied:
		return 4
	default:
		return 5
	}
}
