// Package lru implements a generic, thread-safe LRU cache whose entries
// carry an optional expiry.
//
// An entry whose expiry has passed is logically absent: Get and Add treat
// it as missing and reclaim its slot lazily. Capacity eviction drops
// the least recently used entry, expired or not.
package lru

import (
	"sync"
	"time"
)

// node is a doubly linked list node holding a key-value pair.
type node[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time // zero = never
	prev      *node[K, V]
	next      *node[K, V]
}

func (n *node[K, V]) expired(now time.Time) bool {
	return !n.expiresAt.IsZero() && !now.Before(n.expiresAt)
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Cache is a generic, thread-safe LRU cache with per-entry TTL.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used (sentinel)
	tail     *node[K, V] // least recently used (sentinel)
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	return &Cache[K, V]{
		capacity: capacity,
		now:      o.now,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
	}
}

// Get retrieves a live value by key and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(n)
	return n.val, true
}

// TTL returns the remaining lifetime of a live entry. Zero with true means
// the entry never expires.
func (c *Cache[K, V]) TTL(key K) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.live(key)
	if !ok {
		return 0, false
	}
	if n.expiresAt.IsZero() {
		return 0, true
	}
	return n.expiresAt.Sub(c.now()), true
}

// Put inserts or replaces a value. ttl <= 0 means the entry never expires.
// Returns the evicted key and true if a capacity eviction occurred.
func (c *Cache[K, V]) Put(key K, val V, ttl time.Duration) (K, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		n.val = val
		n.expiresAt = c.deadline(ttl)
		c.moveToFront(n)
		var zero K
		return zero, false
	}
	return c.insert(key, val, ttl)
}

// Add inserts val only if no live entry exists for key.
// Returns the value now held for key and whether this call stored it.
func (c *Cache[K, V]) Add(key K, val V, ttl time.Duration) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.live(key); ok {
		return n.val, false
	}
	c.insert(key, val, ttl)
	return val, true
}

// Update applies fn to the live value for key (zero value if absent) and
// stores the result. ttl is applied only when the entry is created.
func (c *Cache[K, V]) Update(key K, ttl time.Duration, fn func(V, bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.live(key); ok {
		n.val = fn(n.val, true)
		c.moveToFront(n)
		return n.val
	}
	var zero V
	val := fn(zero, false)
	c.insert(key, val, ttl)
	return val
}

// Delete removes a key from the cache. Returns true if a live key existed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(n)
	delete(c.items, key)
	return !n.expired(c.now())
}

// Len returns the number of stored entries, including expired ones not yet reclaimed.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for cur := c.head.next; cur != c.tail; {
		next := cur.next
		if cur.expired(now) {
			c.remove(cur)
			delete(c.items, cur.key)
			dropped++
		}
		cur = next
	}
	return dropped
}

// Clear removes all entries from the cache.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*node[K, V], c.capacity)
}

// --- internal operations (caller must hold lock) ---

// live returns the node for key, reclaiming it if expired.
func (c *Cache[K, V]) live(key K) (*node[K, V], bool) {
	n, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if n.expired(c.now()) {
		c.remove(n)
		delete(c.items, key)
		return nil, false
	}
	return n, true
}

func (c *Cache[K, V]) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *Cache[K, V]) insert(key K, val V, ttl time.Duration) (K, bool) {
	var evictedKey K
	evicted := false
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.remove(victim)
		delete(c.items, victim.key)
		evictedKey = victim.key
		evicted = true
	}

	n := &node[K, V]{key: key, val: val, expiresAt: c.deadline(ttl)}
	c.items[key] = n
	c.pushFront(n)
	return evictedKey, evicted
}

// remove detaches a node from the list.
func (c *Cache[K, V]) remove(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

// pushFront inserts a node right after head sentinel.
func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

// moveToFront detaches and reinserts a node at front.
func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
