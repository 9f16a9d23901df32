package api

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failure independently of the provider that
// produced it.
type ErrorKind string

const (
	// ErrorTransient covers timeouts, rate limits and 5xx responses. The
	// caller retries these internally.
	ErrorTransient ErrorKind = "transient"

	// ErrorPermanent covers auth failures, malformed requests and context
	// length overruns. Exhausted transient retries also surface as permanent.
	ErrorPermanent ErrorKind = "permanent"

	// ErrorMalformedResponse marks an undecodable stream chunk or body.
	ErrorMalformedResponse ErrorKind = "malformed_response"

	// ErrorMalformedToolCall marks a tool call whose arguments failed to
	// parse. It is attached to the call, not to the message.
	ErrorMalformedToolCall ErrorKind = "malformed_tool_call"

	// ErrorCanceled is the terminal outcome of caller cancellation.
	ErrorCanceled ErrorKind = "canceled"

	// ErrorUnsupportedCapability is raised before any network call when the
	// request needs a feature the provider lacks.
	ErrorUnsupportedCapability ErrorKind = "unsupported_capability"
)

// Error is a classified failure.
type Error struct {
	Kind     ErrorKind `json:"kind"`
	Provider string    `json:"provider,omitempty"`
	Code     string    `json:"code,omitempty"`
	Param    string    `json:"param,omitempty"`
	Message  string    `json:"message"`

	// StatusCode is the HTTP status, when the failure came from a response.
	StatusCode int `json:"status_code,omitempty"`

	// Raw holds a bounded copy of the offending payload for diagnosis.
	Raw []byte `json:"-"`

	// RetryAfter is the server-requested delay, if any.
	RetryAfter time.Duration `json:"-"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Param != "" {
		msg = fmt.Sprintf("%s (param: %s)", msg, e.Param)
	}
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewTransientError creates a retryable error.
func NewTransientError(message string) *Error {
	return &Error{Kind: ErrorTransient, Message: message}
}

// NewPermanentError creates a non-retryable error.
func NewPermanentError(message string) *Error {
	return &Error{Kind: ErrorPermanent, Message: message}
}

// NewMalformedResponseError creates an error for an undecodable payload.
// raw is truncated to 4 KiB.
func NewMalformedResponseError(message string, raw []byte) *Error {
	return &Error{Kind: ErrorMalformedResponse, Message: message, Raw: truncateRaw(raw)}
}

// NewMalformedToolCallError creates an error attached to one tool call.
func NewMalformedToolCallError(callID, message string) *Error {
	return &Error{Kind: ErrorMalformedToolCall, Param: callID, Message: message}
}

// NewCanceledError creates the terminal cancellation outcome.
func NewCanceledError(cause error) *Error {
	return &Error{Kind: ErrorCanceled, Message: "request canceled", Cause: cause}
}

// NewUnsupportedCapabilityError reports a feature the provider lacks.
func NewUnsupportedCapabilityError(param, message string) *Error {
	return &Error{Kind: ErrorUnsupportedCapability, Param: param, Message: message}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies an arbitrary error. Context cancellation maps to
// ErrorCanceled, deadline expiry to ErrorTransient, and unknown errors to
// ErrorPermanent.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTransient
	}
	return ErrorPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return KindOf(err) == ErrorTransient
}

// Classify wraps err as an *Error, keeping an existing classification.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	kind := KindOf(err)
	if kind == ErrorCanceled {
		return NewCanceledError(err)
	}
	return &Error{Kind: kind, Message: err.Error(), Cause: err}
}

const maxRaw = 4096

func truncateRaw(raw []byte) []byte {
	if len(raw) > maxRaw {
		raw = raw[:maxRaw]
	}
	if raw == nil {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}
