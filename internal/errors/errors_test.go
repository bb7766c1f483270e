package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("anthropic", 403, "forbidden")
	assert.Contains(t, err.Error(), "anthropic")
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "forbidden")
}

func TestAPIError_WithWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := &APIError{Service: "openai", StatusCode: 500, Message: "fail", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAPIError("ai", 429, "rate limit")))
	assert.True(t, IsRetryable(NewAPIError("ai", 502, "bad gateway")))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(&RateLimitError{Scope: "chat_minute", RetryAfter: time.Minute}))
	assert.True(t, IsRetryable(NewStoreError("save", errors.New("disk full"))))

	assert.False(t, IsRetryable(NewAPIError("ai", 401, "unauth")))
	assert.False(t, IsRetryable(&RateLimitError{Scope: "chat_session", Permanent: true}))
	assert.False(t, IsRetryable(NewValidationError("goal", "too short")))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{NewValidationError("goal", "too short"), KindValidation},
		{fmt.Errorf("load: %w", ErrInvalidSession), KindInvalidSession},
		{&RateLimitError{Scope: "submission"}, KindRateLimited},
		{fmt.Errorf("load: %w", ErrSessionNotFound), KindSessionNotFound},
		{ErrSessionExpired, KindSessionExpired},
		{&TransitionError{From: "COMPLETE", To: "INIT", Reason: "terminal"}, KindInvalidTransition},
		{&GenerationError{Class: ClassTimeout, Provider: "anthropic"}, KindGeneration},
		{NewStoreError("save", errors.New("locked")), KindStore},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestGenerationError_Misconfigured(t *testing.T) {
	err := &GenerationError{Class: ClassMisconfigured, Provider: "openai", Err: errors.New("no key")}
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, ErrMisconfigured)
	assert.NotContains(t, err.SafeMessage(), "no key")
}

func TestNewStoreError_Nil(t *testing.T) {
	assert.NoError(t, NewStoreError("save", nil))
}

func TestIsDiagnostic(t *testing.T) {
	assert.True(t, IsDiagnostic(NewStoreError("save", errors.New("x"))))
	assert.True(t, IsDiagnostic(&GenerationError{Class: ClassProvider}))
	assert.False(t, IsDiagnostic(ErrSessionExpired))
	assert.False(t, IsDiagnostic(&RateLimitError{}))
}
