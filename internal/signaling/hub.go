package signaling

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/1ureka/duet/internal/protocol"
)

// Handler receives the raw data of one event.
type Handler func(data json.RawMessage)

// Subscriber is anything handlers can be registered on.
type Subscriber interface {
	On(event protocol.Event, fn Handler) *Subscription
}

// Hub is a goroutine-safe event → handlers table. Handlers run on the
// goroutine that calls Emit.
type Hub struct {
	mu       sync.RWMutex
	handlers map[protocol.Event][]*Subscription
}

// On registers fn for event and returns the handle that removes it.
func (h *Hub) On(event protocol.Event, fn Handler) *Subscription {
	sub := &Subscription{hub: h, event: event, fn: fn}
	sub.active.Store(true)

	h.mu.Lock()
	if h.handlers == nil {
		h.handlers = make(map[protocol.Event][]*Subscription)
	}
	h.handlers[event] = append(h.handlers[event], sub)
	h.mu.Unlock()

	return sub
}

// Emit invokes every active handler registered for event, in registration
// order.
func (h *Hub) Emit(event protocol.Event, data json.RawMessage) {
	h.mu.RLock()
	subs := slices.Clone(h.handlers[event])
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(data)
		}
	}
}

// HandlerCount reports how many handlers are registered for event.
func (h *Hub) HandlerCount(event protocol.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[event])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[sub.event] = slices.DeleteFunc(h.handlers[sub.event], func(s *Subscription) bool {
		return s == sub
	})
	if len(h.handlers[sub.event]) == 0 {
		delete(h.handlers, sub.event)
	}
}

// Subscription is the handle returned by On.
type Subscription struct {
	hub    *Hub
	event  protocol.Event
	fn     Handler
	active atomic.Bool
}

// Unsubscribe removes the handler. Safe to call multiple times.
func (s *Subscription) Unsubscribe() {
	if s.active.CompareAndSwap(true, false) {
		s.hub.remove(s)
	}
}

// Active reports whether the handler is still registered.
func (s *Subscription) Active() bool {
	return s.active.Load()
}

// ---------------------------------------------------------------------------
// Scope
// ---------------------------------------------------------------------------

// Scope groups the subscriptions of one lifecycle phase so they can be
// released together. When a post function is given, handlers are delivered
// through it and re-checked on delivery: a handler queued before Close but
// run after it is dropped.
type Scope struct {
	src  Subscriber
	post func(func())

	mu      sync.Mutex
	entries []*scopedHandler
	closed  bool
}

type scopedHandler struct {
	sub  *Subscription
	live atomic.Bool
}

// NewScope creates a Scope over src. post may be nil, in which case
// handlers run on the emitting goroutine.
func NewScope(src Subscriber, post func(func())) *Scope {
	return &Scope{src: src, post: post}
}

// On registers fn for event within the scope. It is a no-op once the scope
// is closed.
func (s *Scope) On(event protocol.Event, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	entry := &scopedHandler{}
	entry.live.Store(true)

	entry.sub = s.src.On(event, func(data json.RawMessage) {
		deliver := func() {
			if entry.live.Load() {
				fn(data)
			}
		}
		if s.post == nil {
			deliver()
			return
		}
		s.post(deliver)
	})

	s.entries = append(s.entries, entry)
}

// Close releases every handler registered through the scope. Deliveries
// still queued through post are dropped when they reach the loop.
func (s *Scope) Close() {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.closed = true
	s.mu.Unlock()

	for _, e := range entries {
		e.live.Store(false)
		e.sub.Unsubscribe()
	}
}
