// Package ratelimit bounds questionnaire submissions and chat turns with
// fixed-window counters kept in a shared kv.Store.
//
// Each window is its own key (identity + window start), so a counter read
// after its window has elapsed is simply a different, empty key. Counters are
// checked first and incremented only on admission; a rejected request costs
// the caller nothing.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/leadflow/internal/errors"
	"github.com/p-blackswan/leadflow/internal/kv"
)

// Scopes reported in RateLimitError.
const (
	ScopeSubmission  = "submission"
	ScopeChatMinute  = "chat_minute"
	ScopeChatSession = "chat_session"
)

// ChatRetryAfter is the retry hint for the per-minute chat cap.
const ChatRetryAfter = 60 * time.Second

const (
	submissionWindow = time.Hour
	chatWindow       = time.Minute
)

// Config holds limiter thresholds.
type Config struct {
	SubmissionsPerHour int
	ChatPerMinute      int
	ChatPerSession     int
	// SessionTTL bounds how long a lifetime counter is kept; it should be at
	// least the session retention window.
	SessionTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SubmissionsPerHour: 20,
		ChatPerMinute:      10,
		ChatPerSession:     50,
		SessionTTL:         30 * 24 * time.Hour,
	}
}

// Limiter admits or rejects requests.
type Limiter struct {
	cfg    Config
	store  kv.Store
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter.
func New(cfg Config, store kv.Store, logger zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:    cfg,
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "ratelimit").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AllowSubmission admits one questionnaire submission for identity.
func (l *Limiter) AllowSubmission(ctx context.Context, identity string) error {
	now := l.now()
	start := now.Truncate(submissionWindow)
	key := windowKey("sub", identity, start)

	count, err := kv.GetInt(ctx, l.store, key)
	if err != nil {
		return perrors.NewStoreError("ratelimit read", err)
	}
	if count >= int64(l.cfg.SubmissionsPerHour) {
		l.logger.Debug().Str("identity", identity).Int64("count", count).Msg("submission rejected")
		return &perrors.RateLimitError{
			Scope:      ScopeSubmission,
			RetryAfter: start.Add(submissionWindow).Sub(now),
		}
	}

	if _, err := l.store.Incr(ctx, key, submissionWindow); err != nil {
		return perrors.NewStoreError("ratelimit incr", err)
	}
	return nil
}

// AllowChat admits one chat turn. Both the per-identity minute cap and the
// per-session lifetime cap must pass; when the lifetime cap is exhausted the
// rejection is permanent for that session.
func (l *Limiter) AllowChat(ctx context.Context, identity, sessionID string) error {
	now := l.now()
	minuteKey := windowKey("chat", identity, now.Truncate(chatWindow))
	lifetimeKey := sessionKey(sessionID)

	used, err := kv.GetInt(ctx, l.store, lifetimeKey)
	if err != nil {
		return perrors.NewStoreError("ratelimit read", err)
	}
	perMinute, err := kv.GetInt(ctx, l.store, minuteKey)
	if err != nil {
		return perrors.NewStoreError("ratelimit read", err)
	}

	if used >= int64(l.cfg.ChatPerSession) {
		l.logger.Debug().Str("session_id", sessionID).Int64("used", used).Msg("session chat cap reached")
		return &perrors.RateLimitError{Scope: ScopeChatSession, Permanent: true}
	}
	if perMinute >= int64(l.cfg.ChatPerMinute) {
		l.logger.Debug().Str("identity", identity).Int64("count", perMinute).Msg("chat burst rejected")
		return &perrors.RateLimitError{Scope: ScopeChatMinute, RetryAfter: ChatRetryAfter}
	}

	if _, err := l.store.Incr(ctx, minuteKey, chatWindow); err != nil {
		return perrors.NewStoreError("ratelimit incr", err)
	}
	if _, err := l.store.Incr(ctx, lifetimeKey, l.cfg.SessionTTL); err != nil {
		return perrors.NewStoreError("ratelimit incr", err)
	}
	return nil
}

// SessionUsage returns how many chat turns a session has been admitted.
func (l *Limiter) SessionUsage(ctx context.Context, sessionID string) (int, error) {
	n, err := kv.GetInt(ctx, l.store, sessionKey(sessionID))
	if err != nil {
		return 0, perrors.NewStoreError("ratelimit read", err)
	}
	return int(n), nil
}

// ForgetSession drops the lifetime counter of a deleted session.
func (l *Limiter) ForgetSession(ctx context.Context, sessionID string) error {
	if err := l.store.Delete(ctx, sessionKey(sessionID)); err != nil {
		return perrors.NewStoreError("ratelimit delete", err)
	}
	return nil
}

func windowKey(kind, identity string, start time.Time) string {
	if identity == "" {
		identity = "unknown"
	}
	return fmt.Sprintf("rl:%s:%s:%s", kind, identity, strconv.FormatInt(start.Unix(), 10))
}

func sessionKey(sessionID string) string {
	return "rl:session:" + sessionID
}
