// Package kv provides the TTL-capable key/value backend shared by the rate
// limiters and the blueprint cache. All cross-request coordination for those
// concerns goes through a Store; none of it is transactional.
package kv

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("kv: invalid configuration")
	ErrInvalidType   = errors.New("kv: invalid store type")
	ErrNotCounter    = errors.New("kv: value is not a counter")
)

// Store is a key/value store with per-key expiry.
type Store interface {
	// Get returns the value for key. Expired keys are reported as absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores val unconditionally. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// SetNX stores val only if no live value exists. Reports whether it stored.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)

	// Incr increments the integer at key and returns the new value.
	// ttl is applied only when the increment creates the key, so a counter
	// lives for exactly one window from its first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}

// Type names a Store driver.
type Type string

const (
	TypeMemory Type = "memory"
	TypeRedis  Type = "redis"
)

// Option configures New.
type Option func(*config)

type config struct {
	redisClient *redis.Client
	prefix      string
	capacity    int
	now         func() time.Time
}

// WithRedisClient sets the client used by the redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(c *config) { c.redisClient = client }
}

// WithPrefix namespaces every key written by the redis driver.
func WithPrefix(prefix string) Option {
	return func(c *config) { c.prefix = prefix }
}

// WithCapacity bounds the number of keys held by the memory driver.
func WithCapacity(n int) Option {
	return func(c *config) { c.capacity = n }
}

// WithClock overrides the memory driver's time source.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// New creates a Store of the given type.
func New(storeType Type, opts ...Option) (Store, error) {
	cfg := &config{
		prefix:   "leadflow:",
		capacity: 10000,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case TypeMemory:
		if cfg.capacity < 1 {
			return nil, ErrInvalidConfig
		}
		return NewMemoryStore(cfg.capacity, cfg.now), nil
	case TypeRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(cfg.redisClient, cfg.prefix), nil
	default:
		return nil, ErrInvalidType
	}
}

// GetInt reads a counter written by Incr. Absent keys read as zero.
func GetInt(ctx context.Context, s Store, key string) (int64, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, ErrNotCounter
	}
	return n, nil
}
