// Package retry provides exponential backoff for outbound side-channel calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	// Retryable decides whether an error is worth another attempt.
	// Nil means perrors.IsRetryable.
	Retryable func(error) bool
}

// DefaultConfig returns defaults sized to fit inside a notification timeout.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      true,
	}
}

// Do executes fn with exponential backoff. Only retryable errors are retried.
// A rate-limit error carrying a RetryAfter hint waits for that long instead,
// capped at MaxDelay.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = perrors.IsRetryable
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff(cfg, attempt, lastErr)):
		}
	}
	return lastErr
}

func backoff(cfg Config, attempt int, err error) time.Duration {
	var rl *perrors.RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return min(rl.RetryAfter, cfg.MaxDelay)
	}

	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}
