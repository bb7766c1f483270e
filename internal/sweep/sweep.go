// Package sweep deletes sessions that have been inactive for longer than the
// retention window.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/leadflow/internal/metrics"
)

// SessionDB is the part of the session store the sweeper needs.
type SessionDB interface {
	// SweepExpired deletes sessions whose last activity is before the cutoff
	// and returns how many were removed.
	SweepExpired(ctx context.Context, before time.Time) (int64, error)
	CountSessions(ctx context.Context) (int64, error)
	DBSizeBytes() (int64, error)
}

// Purger drops expired entries from an in-process cache.
type Purger interface {
	Purge() int
}

// Sweeper periodically removes expired sessions.
type Sweeper struct {
	db        SessionDB
	retention time.Duration
	interval  time.Duration
	metrics   *metrics.Metrics
	purger    Purger
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithMetrics records swept sessions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithPurger also purges p on every run.
func WithPurger(p Purger) Option {
	return func(s *Sweeper) { s.purger = p }
}

// New creates a Sweeper.
func New(db SessionDB, retention, interval time.Duration, logger zerolog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		db:        db,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With().Str("component", "sweep").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunOnce deletes every session inactive for longer than the retention
// window, purges the configured cache and refreshes the database size gauge.
// A second call with the same clock deletes nothing.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.db.SweepExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	s.metrics.AddSwept(n)

	if s.purger != nil {
		if purged := s.purger.Purge(); purged > 0 {
			s.logger.Debug().Int("purged", purged).Msg("expired cache entries purged")
		}
	}
	if size, err := s.db.DBSizeBytes(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to read database size")
	} else {
		s.metrics.SetDBSize(size)
	}

	if n == 0 {
		s.logger.Debug().Time("cutoff", cutoff).Msg("no expired sessions")
		return 0, nil
	}

	ev := s.logger.Info().Int64("deleted", n).Time("cutoff", cutoff)
	if remaining, err := s.db.CountSessions(ctx); err == nil {
		ev = ev.Int64("remaining", remaining)
	}
	ev.Msg("expired sessions swept")
	return n, nil
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("session sweeper started")

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("session sweep failed")
	}
}
