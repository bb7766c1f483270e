package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/p-blackswan/leadflow/internal/lru"
)

// MemoryStore implements Store on a bounded in-process TTL LRU.
// Suitable for a single replica; counters are lost on restart.
type MemoryStore struct {
	cache *lru.Cache[string, []byte]
}

// NewMemoryStore creates a MemoryStore holding at most capacity keys.
func NewMemoryStore(capacity int, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{cache: lru.New[string, []byte](capacity, lru.WithClock(now))}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.cache.Put(key, append([]byte(nil), val...), ttl)
	return nil
}

// SetNX implements Store.
func (m *MemoryStore) SetNX(_ context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	_, stored := m.cache.Add(key, append([]byte(nil), val...), ttl)
	return stored, nil
}

// Incr implements Store.
func (m *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	var convErr error
	var n int64
	m.cache.Update(key, ttl, func(cur []byte, ok bool) []byte {
		if ok {
			v, err := strconv.ParseInt(string(cur), 10, 64)
			if err != nil {
				convErr = ErrNotCounter
				return cur
			}
			n = v
		}
		n++
		return []byte(strconv.FormatInt(n, 10))
	})
	if convErr != nil {
		return 0, convErr
	}
	return n, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.cache.Delete(k)
	}
	return nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.cache.Clear()
	return nil
}

// Purge drops expired keys. Expired keys are already invisible; this only
// reclaims memory.
func (m *MemoryStore) Purge() int {
	return m.cache.Purge()
}
