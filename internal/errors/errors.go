// Package errors provides the structured error taxonomy for the lead flow.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrValidation        = errors.New("invalid input")
	ErrInvalidSession    = errors.New("invalid session id")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrGeneration        = errors.New("generation failed")
	ErrStore             = errors.New("store failure")
	ErrMisconfigured     = errors.New("service misconfigured")
	ErrTimeout           = errors.New("operation timed out")
	ErrUnavailable       = errors.New("service unavailable")
)

// Kind strings returned by KindOf. The endpoint layer maps them to transport codes.
const (
	KindValidation        = "validation_error"
	KindInvalidSession    = "invalid_session"
	KindRateLimited       = "rate_limited"
	KindSessionNotFound   = "session_not_found"
	KindSessionExpired    = "session_expired"
	KindInvalidTransition = "invalid_state_transition"
	KindGeneration        = "generation_failure"
	KindStore             = "store_failure"
	KindInternal          = "internal_error"
)

// ValidationError reports a bad field in caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RateLimitError is returned when a limiter rejects a request.
// Permanent is set for the per-session lifetime cap: no retry will ever succeed.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
	Permanent  bool
}

func (e *RateLimitError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("%s limit reached for this session", e.Scope)
	}
	return fmt.Sprintf("%s limit exceeded, retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// TransitionError carries the offending edge of a rejected state change.
type TransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Generation failure classes.
const (
	ClassMisconfigured = "misconfigured"
	ClassTimeout       = "timeout"
	ClassProvider      = "provider_error"
	ClassRateLimited   = "provider_rate_limited"
	ClassEmpty         = "empty_response"
	ClassMalformed     = "malformed_response"
)

// GenerationError is the classified result of a failed provider call.
// Err holds the diagnostic detail; SafeMessage is what a visitor may see.
type GenerationError struct {
	Class    string
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s generation failed (%s): %v", e.Provider, e.Class, e.Err)
	}
	return fmt.Sprintf("%s generation failed (%s)", e.Provider, e.Class)
}

func (e *GenerationError) Unwrap() []error {
	errs := []error{ErrGeneration}
	if e.Class == ClassMisconfigured {
		errs = append(errs, ErrMisconfigured)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// SafeMessage returns a message that leaks no provider detail.
func (e *GenerationError) SafeMessage() string {
	return "We couldn't generate your blueprint right now. Our team will review your request and follow up."
}

// StoreError wraps an infrastructure failure of the backing store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStore}
	}
	return []error{ErrStore, e.Err}
}

// NewStoreError wraps err as a StoreError. Returns nil for a nil err.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// APIError represents an error from an external API call.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return !rl.Permanent
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrStore)
}

// KindOf classifies err into one of the Kind constants.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSession):
		return KindInvalidSession
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrSessionNotFound):
		return KindSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrGeneration):
		return KindGeneration
	case errors.Is(err, ErrStore):
		return KindStore
	default:
		return KindInternal
	}
}

// IsDiagnostic reports whether err should be logged with full detail.
// Everything else is expected traffic noise.
func IsDiagnostic(err error) bool {
	switch KindOf(err) {
	case KindGeneration, KindStore, KindInternal:
		return true
	}
	return false
}
