// Package cache implements the Result cache from spec §4.14: a TTL-bounded,
// size-bounded store keyed by the caller-supplied cache key, with entries
// encoded via CBOR so the store can be swapped for an out-of-process backend
// without changing the in-memory shape.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/aledsdavies/xrun/command"
)

// entry is the value stored per key, plus its LRU list element.
type entry struct {
	key       string
	data      []byte
	expiresAt time.Time
	elem      *list.Element
}

// Cache is a TTL + LRU bounded cache of command.Result, safe for concurrent
// use. The zero value is not usable; construct with New.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // front = most recently used
	capacity int
	now      func() time.Time
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithCapacity bounds the cache to at most n entries, evicting the least
// recently used entry once exceeded. n <= 0 means unbounded.
func WithCapacity(n int) Option {
	return func(c *Cache) { c.capacity = n }
}

// withClock overrides the cache's notion of "now", for deterministic tests.
func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New constructs an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached Result for key, if present and not expired.
func (c *Cache) Get(key string) (command.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return command.Result{}, false
	}
	if c.now().After(e.expiresAt) {
		c.removeLocked(e)
		return command.Result{}, false
	}

	c.order.MoveToFront(e.elem)

	var res command.Result
	if err := cbor.Unmarshal(e.data, &res); err != nil {
		c.removeLocked(e)
		return command.Result{}, false
	}
	return res, true
}

// Set stores res under key, valid until ttl elapses. A zero or negative ttl
// stores an already-expired entry, which is a harmless no-op from the
// caller's perspective since the next Get will miss.
func (c *Cache) Set(key string, res command.Result, ttl time.Duration) error {
	data, err := cbor.Marshal(res)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	e := &entry{key: key, data: data, expiresAt: c.now().Add(ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	c.evictOverCapacityLocked()
	return nil
}

// Delete removes key from the cache, if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of live entries, including ones not yet swept for
// expiry.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

func (c *Cache) evictOverCapacityLocked() {
	if c.capacity <= 0 {
		return
	}
	for len(c.entries) > c.capacity {
		back := c.order.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*entry))
	}
}
