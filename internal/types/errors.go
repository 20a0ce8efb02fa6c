package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable error taxonomy exposed to callers. Kinds map
// one-to-one onto HTTP statuses via HTTPStatus.
type ErrorKind string

const (
	KindBadRequest           ErrorKind = "bad_request"
	KindNotFound             ErrorKind = "not_found"
	KindVersionConflict      ErrorKind = "version_conflict"
	KindDuplicateContentHash ErrorKind = "duplicate_content_hash"
	KindPinnedRequiresForce  ErrorKind = "pinned_requires_force"
	KindAutonomousDenied     ErrorKind = "autonomous_force_denied"
	KindRetentionExpired     ErrorKind = "retention_expired"
	KindRateLimited          ErrorKind = "rate_limited"
	KindPolicyDenied         ErrorKind = "policy_denied"
	KindProviderUnavailable  ErrorKind = "provider_unavailable"
	KindInternal             ErrorKind = "internal_error"
)

// CoreError carries a taxonomy kind alongside a human-readable message and
// an optional wrapped cause.
type CoreError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// E builds a CoreError with a fixed message.
func E(kind ErrorKind, msg string) *CoreError {
	return &CoreError{Kind: kind, Message: msg}
}

// Ef builds a CoreError with a formatted message.
func Ef(kind ErrorKind, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy kind to an underlying error.
func Wrap(kind ErrorKind, msg string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: msg, Err: err}
}

// KindOf walks the error chain for a CoreError and returns its kind,
// defaulting to internal_error for untyped failures.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the HTTP status the API returns.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindVersionConflict, KindDuplicateContentHash, KindPinnedRequiresForce:
		return http.StatusConflict
	case KindAutonomousDenied, KindPolicyDenied:
		return http.StatusForbidden
	case KindRetentionExpired:
		return http.StatusGone
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
