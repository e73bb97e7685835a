// Package errs defines the typed error taxonomy shared across the
// session engine, state store client and REST surface.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error for HTTP mapping and retry policy.
type Kind string

const (
	KindValidation             Kind = "validation"
	KindSessionNotFound        Kind = "session_not_found"
	KindInvalidState           Kind = "invalid_state"
	KindConcurrentModification Kind = "concurrent_modification"
	KindParticipantNotFound    Kind = "participant_not_found"
	KindStoreUnavailable       Kind = "store_unavailable"
	KindAuditEnqueueFailed     Kind = "audit_enqueue_failed"
	KindStateDeserialization   Kind = "state_deserialization"
	KindRateLimitExceeded      Kind = "rate_limit_exceeded"
	KindTimeout                Kind = "timeout"
	KindInternal               Kind = "internal"
)

// Retryable reports whether the client library should retry the kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindConcurrentModification, KindStoreUnavailable, KindRateLimitExceeded:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to its representative HTTP status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindParticipantNotFound:
		return 400
	case KindSessionNotFound:
		return 404
	case KindInvalidState, KindConcurrentModification:
		return 409
	case KindStoreUnavailable:
		return 503
	case KindStateDeserialization, KindInternal:
		return 500
	case KindRateLimitExceeded:
		return 429
	case KindTimeout:
		return 504
	default:
		return 500
	}
}

// Error is the typed, wrappable error carried through every layer.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a typed error, wrapping cause with a stack via pkg/errors so
// it survives until the REST surface renders a correlation id.
func New(kind Kind, message string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, message)
	}
	return &Error{Kind: kind, Message: message, cause: wrapped}
}

// As extracts a *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func Validation(msg string) *Error             { return New(KindValidation, msg, nil) }
func SessionNotFound(id string) *Error         { return New(KindSessionNotFound, "session "+id+" not found", nil) }
func InvalidState(msg string) *Error           { return New(KindInvalidState, msg, nil) }
func ConcurrentModification(msg string) *Error { return New(KindConcurrentModification, msg, nil) }
func ParticipantNotFound(id string) *Error {
	return New(KindParticipantNotFound, "participant "+id+" not found", nil)
}
func StoreUnavailable(cause error) *Error { return New(KindStoreUnavailable, "store unavailable", cause) }
func StateDeserialization(cause error) *Error {
	return New(KindStateDeserialization, "stored state could not be deserialized", cause)
}
func RateLimitExceeded(msg string) *Error { return New(KindRateLimitExceeded, msg, nil) }
func Timeout(msg string) *Error           { return New(KindTimeout, msg, nil) }
func Internal(cause error) *Error         { return New(KindInternal, "internal error", cause) }
