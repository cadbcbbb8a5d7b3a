// Package events implements the engine's filtered, wildcard-capable
// publish/subscribe bus (spec §4.13). Every emitted event carries a
// timestamp and the originating adapter tag; publishing is synchronous
// relative to the emitter.
package events

import (
	"strings"
	"sync"
	"time"
)

// Event is a single published occurrence. Name is colon-delimited
// (e.g. "command:start", "ssh:tunnel-created").
type Event struct {
	Name      string
	Timestamp time.Time
	Adapter   string
	Props     map[string]any
}

// Filter decides whether handler should run for a given event, given its
// properties (adapter, host, exit code, ...).
type Filter func(Event) bool

// Handler receives a matching event. Handlers must not block long.
type Handler func(Event)

type subscription struct {
	id      uint64
	pattern string
	filter  Filter
	handler Handler
}

// Bus is a synchronous publish/subscribe hub. Safe for concurrent use.
type Bus struct {
	mu   sync.Mutex
	subs []subscription
	next uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{}
}

// On subscribes handler to events whose name exactly equals name, unless
// name ends in "*" (prefix wildcard) or is the bare "*" (matches everything).
func (b *Bus) On(name string, handler Handler) uint64 {
	return b.OnFiltered(name, nil, handler)
}

// OnFiltered subscribes handler to events matching name (with the same
// wildcard rules as On) AND filter, if filter is non-nil.
func (b *Bus) OnFiltered(name string, filter Filter, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, pattern: name, filter: filter, handler: handler})
	return id
}

// Off removes the subscription with the given id. Returns false if no such
// subscription exists.
func (b *Bus) Off(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// OffFiltered is an alias of Off kept for symmetry with OnFiltered; both
// subscription kinds are removed the same way, by id.
func (b *Bus) OffFiltered(id uint64) bool {
	return b.Off(id)
}

// Publish emits event synchronously to every matching subscriber, in
// subscription order. If event.Timestamp is zero, Publish stamps it with
// time.Now().
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if !matchesPattern(s.pattern, event.Name) {
			continue
		}
		if s.filter != nil && !s.filter(event) {
			continue
		}
		matched = append(matched, s)
	}
	b.mu.Unlock()

	for _, s := range matched {
		s.handler(event)
	}
}

// matchesPattern implements the wildcard rules: a bare "*" matches any name;
// a trailing "*" matches any name sharing that prefix; otherwise exact match.
func matchesPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}
