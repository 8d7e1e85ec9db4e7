// Package cache provides a generic in-memory key/value cache with per-entry
// expiry and a pluggable rule for resolving conflicting writes.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached value together with the time the value was observed.
// A zero Observed means the value carries no observation time.
type Entry[V any] struct {
	Value    V
	Observed time.Time
}

// Resolver decides whether next replaces current. It is only consulted when a
// live entry exists for the key.
type Resolver[V any] func(current, next Entry[V]) bool

// AlwaysReplace accepts every write.
func AlwaysReplace[V any](current, next Entry[V]) bool { return true }

// NewerWins accepts next when current has no observation time or next was
// observed strictly after current.
func NewerWins[V any](current, next Entry[V]) bool {
	if current.Observed.IsZero() {
		return true
	}
	return next.Observed.After(current.Observed)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithResolver sets the conflict rule used by Put.
func WithResolver[K comparable, V any](r Resolver[V]) Option[K, V] {
	return func(c *Cache[K, V]) { c.resolve = r }
}

// WithClock overrides time.Now.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) { c.now = now }
}

// WithLookupHook is called on every Get/GetOrLoad with whether the key was a hit.
func WithLookupHook[K comparable, V any](hook func(hit bool)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onLookup = hook }
}

type item[V any] struct {
	entry   Entry[V]
	expires time.Time
}

// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	items    map[K]item[V]
	resolve  Resolver[V]
	now      func() time.Time
	onLookup func(hit bool)
	loads    singleflight.Group
}

// New creates a cache whose entries live for ttl after they are written.
// A ttl <= 0 disables expiry.
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	c := &Cache[K, V]{
		ttl:     ttl,
		items:   make(map[K]item[V]),
		resolve: AlwaysReplace[V],
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.GetEntry(key)
	return e.Value, ok
}

// GetEntry returns the live entry for key.
func (c *Cache[K, V]) GetEntry(key K) (Entry[V], bool) {
	c.mu.Lock()
	e, ok := c.lookupLocked(key)
	c.mu.Unlock()
	if c.onLookup != nil {
		c.onLookup(ok)
	}
	return e, ok
}

func (c *Cache[K, V]) lookupLocked(key K) (Entry[V], bool) {
	it, ok := c.items[key]
	if !ok {
		return Entry[V]{}, false
	}
	if c.ttl > 0 && !c.now().Before(it.expires) {
		delete(c.items, key)
		return Entry[V]{}, false
	}
	return it.entry, true
}

// Set stores value unconditionally with no observation time.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.storeLocked(key, Entry[V]{Value: value})
	c.mu.Unlock()
}

// Put stores value observed at the given time if the cache's resolver accepts
// it over the current live entry. It reports whether the value was stored.
func (c *Cache[K, V]) Put(key K, value V, observed time.Time) bool {
	next := Entry[V]{Value: value, Observed: observed}

	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.lookupLocked(key); ok && !c.resolve(current, next) {
		return false
	}
	c.storeLocked(key, next)
	return true
}

func (c *Cache[K, V]) storeLocked(key K, e Entry[V]) {
	c.items[key] = item[V]{entry: e, expires: c.now().Add(c.ttl)}
}

// GetOrLoad returns the live value for key, calling load on a miss and caching
// its result. Concurrent misses for the same key share one load. Errors are not cached.
// Keys are told apart by their Go-syntax form, so struct keys whose fields
// print alike under %v still load separately.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.loads.Do(fmt.Sprintf("%#v", key), func() (interface{}, error) {
		c.mu.Lock()
		e, ok := c.lookupLocked(key)
		c.mu.Unlock()
		if ok {
			return e.Value, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, _ := res.(V)
	return v, nil
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.items = make(map[K]item[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, including ones that have expired
// but not yet been evicted.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge evicts expired entries and returns how many were removed.
func (c *Cache[K, V]) Purge() int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
			n++
		}
	}
	return n
}
