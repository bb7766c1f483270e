package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
)

func fast() Config {
	return Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NonRetryableError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("slack", 404, "channel_not_found")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryableError_EventualSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return perrors.NewAPIError("slack", 503, "service unavailable")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RetryableError_AllFail(t *testing.T) {
	calls := 0
	cfg := fast()
	cfg.MaxAttempts = 2
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return perrors.NewAPIError("slack", 429, "rate limit")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fast(), func(ctx context.Context) error {
		calls++
		return perrors.ErrTimeout
	})
	assert.ErrorIs(t, err, perrors.ErrTimeout)
	assert.Equal(t, 1, calls)
}

func TestDo_CustomRetryable(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	cfg := fast()
	cfg.Retryable = func(err error) bool { return errors.Is(err, boom) }
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.Equal(t, 3, calls)
}

func TestBackoff_HonoursRetryAfter(t *testing.T) {
	cfg := Config{BaseDelay: time.Millisecond, MaxDelay: time.Second}

	d := backoff(cfg, 0, &perrors.RateLimitError{Scope: "slack", RetryAfter: 300 * time.Millisecond})
	assert.Equal(t, 300*time.Millisecond, d)

	d = backoff(cfg, 0, &perrors.RateLimitError{Scope: "slack", RetryAfter: time.Minute})
	assert.Equal(t, time.Second, d)

	assert.Equal(t, 4*time.Millisecond, backoff(cfg, 2, perrors.ErrTimeout))
}
