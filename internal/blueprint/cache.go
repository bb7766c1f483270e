package blueprint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/leadflow/internal/kv"
)

const (
	entryPrefix = "blueprint:"
	refPrefix   = "blueprint-ref:"
)

// Entry is a cached blueprint.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Blueprint   Blueprint `json:"blueprint"`
	CachedAt    time.Time `json:"cached_at"`
}

// Cache maps fingerprints to generated blueprints with a TTL. Writes are
// first-writer-wins: a live entry is never overwritten.
type Cache struct {
	store  kv.Store
	ttl    time.Duration
	refTTL time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock overrides the cache's time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithReferenceTTL sets how long a session's link to its fingerprint is kept.
func WithReferenceTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.refTTL = ttl }
}

// NewCache creates a Cache over store.
func NewCache(store kv.Store, ttl time.Duration, logger zerolog.Logger, opts ...CacheOption) *Cache {
	c := &Cache{
		store:  store,
		ttl:    ttl,
		refTTL: 30 * 24 * time.Hour,
		now:    time.Now,
		logger: logger.With().Str("component", "blueprint_cache").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for fingerprint. An entry older than the TTL is
// treated as absent even if the backend has not purged it yet.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Entry, bool, error) {
	raw, ok, err := c.store.Get(ctx, entryPrefix+fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("dropping undecodable cache entry")
		_ = c.store.Delete(ctx, entryPrefix+fingerprint)
		return nil, false, nil
	}
	if c.ttl > 0 && !c.now().Before(e.CachedAt.Add(c.ttl)) {
		return nil, false, nil
	}
	return &e, true, nil
}

// Put stores bp under fingerprint unless a live entry already exists.
// It returns the entry now cached (the caller's or the earlier winner's)
// and whether this call stored it. Callers should present the returned
// entry so concurrent duplicates converge on one blueprint.
func (c *Cache) Put(ctx context.Context, fingerprint string, bp Blueprint) (*Entry, bool, error) {
	e := &Entry{Fingerprint: fingerprint, Blueprint: bp, CachedAt: c.now().UTC()}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, false, fmt.Errorf("cache encode: %w", err)
	}

	stored, err := c.store.SetNX(ctx, entryPrefix+fingerprint, raw, c.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("cache put: %w", err)
	}
	if stored {
		return e, true, nil
	}

	winner, ok, err := c.Get(ctx, fingerprint)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		// Only a logically expired entry was in the way; replace it.
		if err := c.store.Set(ctx, entryPrefix+fingerprint, raw, c.ttl); err != nil {
			return nil, false, fmt.Errorf("cache put: %w", err)
		}
		return e, true, nil
	}
	return winner, false, nil
}

// Link records which fingerprint a session's blueprint came from.
func (c *Cache) Link(ctx context.Context, sessionID, fingerprint string) error {
	if err := c.store.Set(ctx, refPrefix+sessionID, []byte(fingerprint), c.refTTL); err != nil {
		return fmt.Errorf("cache link: %w", err)
	}
	return nil
}

// Forget removes a session's reference and returns the fingerprint it was
// linked to, if any. The shared entry stays: other sessions with the same
// answers still hit it.
func (c *Cache) Forget(ctx context.Context, sessionID string) (string, error) {
	key := refPrefix + sessionID
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("cache forget: %w", err)
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return "", fmt.Errorf("cache forget: %w", err)
	}
	if !ok {
		return "", nil
	}
	return string(raw), nil
}
