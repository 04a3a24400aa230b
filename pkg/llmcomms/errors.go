package llmcomms

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an Error into one of the nine taxonomy buckets, or the
// generic "llm" supertype when nothing more specific applies.
type Kind string

const (
	// KindGeneric is the fallthrough supertype for errors that don't map
	// onto any of the nine specific kinds below.
	KindGeneric Kind = "llm"

	KindValidation          Kind = "validation"
	KindAuthorization       Kind = "authorization"
	KindPermissionDenied    Kind = "permission_denied"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindRateLimited         Kind = "rate_limited"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindProviderUnknown     Kind = "provider_unknown"
	KindTimeout             Kind = "timeout"
	KindNotSupported        Kind = "not_supported"
)

// Error is the single error type returned across the module's public
// surface. Provider adapters translate vendor-specific failures into an
// Error with the closest matching Kind at the boundary; callers never see
// a raw HTTP error unless it's wrapped as Cause.
type Error struct {
	Kind Kind

	// Message is a human-readable description.
	Message string

	// RequestID is the originating invocation's request id, when known.
	RequestID string

	// StatusCode is the HTTP status code that produced this error, 0 if
	// not applicable.
	StatusCode int

	// ProviderCode is a vendor-specific error code string, empty if the
	// provider didn't supply one.
	ProviderCode string

	// RetryAfter is the provider-advised wait, set when Kind is
	// KindRateLimited and the response carried a Retry-After hint. The
	// Retry policy uses this in place of its own backoff computation for
	// that attempt.
	RetryAfter time.Duration

	// Cause is the wrapped underlying error, if any.
	Cause error
}

var defaultRetryable = map[Kind]bool{
	KindGeneric:             true,
	KindValidation:          false,
	KindAuthorization:       false,
	KindPermissionDenied:    false,
	KindQuotaExceeded:       false,
	KindRateLimited:         true,
	KindProviderUnavailable: true,
	KindProviderUnknown:     false,
	KindTimeout:             false,
	KindNotSupported:        false,
}

// Retryable reports whether the Retry policy should attempt this error
// again: rate_limited, provider_unavailable, and the generic supertype
// (standing in for unclassified network I/O failures) are retryable;
// everything else is not.
func (e *Error) Retryable() bool {
	return defaultRetryable[e.Kind]
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.ProviderCode != "" {
		return fmt.Sprintf("llmcomms: %s (%s): %s", e.Kind, e.ProviderCode, e.Message)
	}
	return fmt.Sprintf("llmcomms: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports equality by Kind, so errors.Is(err, &Error{Kind: KindAuthorization})
// style matching works without comparing Message, RequestID, or Cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it is, or wraps, an *Error; otherwise
// returns KindGeneric.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

// IsRetryable reports whether err is an *Error whose Kind is retryable.
// Non-Error values (bugs, context errors) are never retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
