// Package emitter provides a scoped listener-registration primitive.
//
// Ownership boundary:
// - listener registration and removal
// - synchronous, in-order event dispatch
//
// It intentionally knows nothing about event names being reserved, packet
// framing, or reconnection — those concerns live in the manager and
// namespace-socket packages, which build on an Emitter (the Manager
// embeds one; the Socket holds one in a named field).
package emitter

import (
	"sync"
	"sync/atomic"
)

// HandlerFunc is a listener callback. Handlers run synchronously, on the
// caller's goroutine, in registration order.
type HandlerFunc func(args ...any)

// Subscription is a scoped listener registration. Release is idempotent
// and has no effect after the first call.
type Subscription struct {
	release func()
	once    *sync.Once
}

// Release detaches the handler this subscription was returned for.
func (s Subscription) Release() {
	if s.once == nil {
		return
	}
	s.once.Do(s.release)
}

// NewSubscription wraps an arbitrary cleanup func as a Subscription so
// callers can accumulate non-handler resources (timers, in-flight
// dials) in the same bulk-release list as real listener registrations.
func NewSubscription(release func()) Subscription {
	return Subscription{once: &sync.Once{}, release: release}
}

type registration struct {
	id int64
	fn HandlerFunc
}

// Emitter is a capability set: register a listener, emit an event, count
// listeners. It carries no domain semantics of its own.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   atomic.Int64
}

// New returns an empty Emitter.
func New() *Emitter {
	return &Emitter{handlers: make(map[string][]registration)}
}

// On registers fn against event and returns a handle whose Release
// detaches it. Safe for concurrent use.
func (e *Emitter) On(event string, fn HandlerFunc) Subscription {
	id := e.nextID.Add(1)
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], registration{id: id, fn: fn})
	e.mu.Unlock()

	return Subscription{
		once: &sync.Once{},
		release: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			regs := e.handlers[event]
			for i, r := range regs {
				if r.id == id {
					e.handlers[event] = append(regs[:i:i], regs[i+1:]...)
					break
				}
			}
			if len(e.handlers[event]) == 0 {
				delete(e.handlers, event)
			}
		},
	}
}

// Emit invokes every handler currently registered for event, in
// registration order, on the calling goroutine. Handlers registered or
// released from within a handler do not affect the in-flight dispatch.
func (e *Emitter) Emit(event string, args ...any) {
	e.mu.RLock()
	regs := make([]registration, len(e.handlers[event]))
	copy(regs, e.handlers[event])
	e.mu.RUnlock()

	for _, r := range regs {
		r.fn(args...)
	}
}

// Listeners reports how many handlers are currently registered for event.
func (e *Emitter) Listeners(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[event])
}

// ReleaseAll releases every subscription in subs, in order. It is the
// standard bulk-cleanup pattern used when a component detaches from an
// emitter it does not own.
func ReleaseAll(subs []Subscription) []Subscription {
	for _, s := range subs {
		s.Release()
	}
	return subs[:0]
}
