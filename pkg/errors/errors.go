// Package errors defines the classified error type shared by all server
// components. Every component returns (or wraps into) *Error; the MCP
// dispatcher is the single place where kinds become JSON-RPC error codes.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Kind classifies an error for dispatch and formatting decisions.
type Kind int

const (
	// KindInternal indicates an unclassified failure.
	KindInternal Kind = iota
	// KindConfig indicates invalid configuration, unrecoverable at startup.
	KindConfig
	// KindAuth indicates rejected CRM credentials.
	KindAuth
	// KindClient indicates invalid tool arguments or a rejected payload.
	KindClient
	// KindTransient indicates rate limiting, upstream 5xx, or network trouble.
	KindTransient
	// KindNotFound indicates the requested resource is absent.
	KindNotFound
	// KindNotReady indicates an index queried before its build completed.
	KindNotReady
	// KindDisabled indicates a feature toggled off by configuration.
	KindDisabled
	// KindTimeout indicates an exceeded deadline.
	KindTimeout
	// KindCanceled indicates a canceled request.
	KindCanceled
)

// String returns the stable name used in logs and error payloads.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindClient:
		return "client"
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindNotReady:
		return "not_ready"
	case KindDisabled:
		return "disabled"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// Error is a classified error. RetryAfter is populated for rate-limit
// transients so callers can schedule their own retry; nothing in this
// server retries on its own. UserMarkdown, when set, is the exact ❌
// rendering shown to the client instead of the generic kind headline.
type Error struct {
	Kind         Kind
	Message      string
	RetryAfter   time.Duration
	Details      interface{}
	UserMarkdown string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// WithRetryAfter sets the rate-limit hint and returns the error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithDetails attaches an arbitrary payload (e.g. a response body excerpt).
func (e *Error) WithDetails(details interface{}) *Error {
	e.Details = details
	return e
}

// WithUserMarkdown attaches the user-facing rendering and returns the error.
func (e *Error) WithUserMarkdown(md string) *Error {
	e.UserMarkdown = md
	return e
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, cause: err}
}

// Wrapf classifies an existing error with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}

// KindOf extracts the classification from any error chain. Context errors
// map to their dedicated kinds; everything unclassified is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if stderrors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindInternal
}

// RetryAfterOf returns the rate-limit hint carried by the chain, if any.
func RetryAfterOf(err error) time.Duration {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.RetryAfter
	}
	return 0
}

// UserMarkdownOf returns the user-facing rendering carried by the chain,
// or "" when the caller has to compose its own.
func UserMarkdownOf(err error) string {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.UserMarkdown
	}
	return ""
}

// FromContext converts a context error into a classified error. Pass the
// original error so the cause chain is preserved.
func FromContext(ctx context.Context, err error) *Error {
	switch {
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, KindTimeout, "deadline exceeded")
	case stderrors.Is(ctx.Err(), context.Canceled) || stderrors.Is(err, context.Canceled):
		return Wrap(err, KindCanceled, "request canceled")
	default:
		return Wrap(err, KindInternal, "unexpected failure")
	}
}

// IsTransient reports whether the error chain carries KindTransient.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsAuth reports whether the error chain carries KindAuth.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsClient reports whether the error chain carries KindClient.
func IsClient(err error) bool { return KindOf(err) == KindClient }

// IsNotFound reports whether the error chain carries KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsNotReady reports whether the error chain carries KindNotReady.
func IsNotReady(err error) bool { return KindOf(err) == KindNotReady }

// IsDisabled reports whether the error chain carries KindDisabled.
func IsDisabled(err error) bool { return KindOf(err) == KindDisabled }

// IsConfig reports whether the error chain carries KindConfig.
func IsConfig(err error) bool { return KindOf(err) == KindConfig }
