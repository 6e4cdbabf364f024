package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure at its point of origin. Callers branch on the
// kind (never on message text) to decide retry and terminal status.
type ErrorKind int

const (
	// KindUnknown is the zero value; it is never produced by this module.
	KindUnknown ErrorKind = iota
	// KindInvalidDefinition marks a malformed agent definition. Not retryable.
	KindInvalidDefinition
	// KindDuplicateAgent marks a registration conflict. Not retryable.
	KindDuplicateAgent
	// KindAgentNotFound marks an unresolvable agent identifier. Not retryable.
	KindAgentNotFound
	// KindInvalidConfig marks a malformed workflow or loop configuration.
	KindInvalidConfig
	// KindTimeout marks an elapsed scoped deadline.
	KindTimeout
	// KindCancelled marks cooperative cancellation. Always resolves to "stopped".
	KindCancelled
	// KindExecution marks a failure reported by the model collaborator.
	KindExecution
)

// String returns the stable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidDefinition:
		return "invalid_definition"
	case KindDuplicateAgent:
		return "duplicate_agent"
	case KindAgentNotFound:
		return "agent_not_found"
	case KindInvalidConfig:
		return "invalid_config"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindExecution:
		return "execution_error"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so kinds persist by name.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "invalid_definition":
		*k = KindInvalidDefinition
	case "duplicate_agent":
		*k = KindDuplicateAgent
	case "agent_not_found":
		*k = KindAgentNotFound
	case "invalid_config":
		*k = KindInvalidConfig
	case "timeout":
		*k = KindTimeout
	case "cancelled":
		*k = KindCancelled
	case "execution_error":
		*k = KindExecution
	default:
		*k = KindUnknown
	}
	return nil
}

// Retryable reports whether an orchestration layer may re-attempt work that
// failed with this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindExecution
}

// Error is the tagged error type used across the module. Op names the
// operation that failed (e.g. "catalog.register").
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Sentinels usable with errors.Is; matching compares kinds only.
var (
	ErrInvalidDefinition = &Error{Kind: KindInvalidDefinition}
	ErrDuplicateAgent    = &Error{Kind: KindDuplicateAgent}
	ErrAgentNotFound     = &Error{Kind: KindAgentNotFound}
	ErrInvalidConfig     = &Error{Kind: KindInvalidConfig}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrExecution         = &Error{Kind: KindExecution}
)

// NewError builds a tagged error with a formatted message.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// WrapError tags err with kind. A nil err yields nil.
func WrapError(kind ErrorKind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, which makes the package sentinels work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err. Context errors map to Timeout/Cancelled;
// any other untagged error is an execution error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindExecution
	}
}

// ContextError converts the error of a finished context into a tagged error.
func ContextError(op string, ctx context.Context) *Error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && cause != err {
		if k := KindOf(cause); k == KindTimeout || k == KindCancelled {
			return WrapError(k, op, cause)
		}
	}
	return WrapError(KindOf(err), op, err)
}
