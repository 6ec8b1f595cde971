package client

import (
	"sort"
	"sync"
)

// Signal names a process-wide session event.
type Signal string

const (
	// SignalAuthExpired fires after a terminal authentication failure cleared the session
	SignalAuthExpired Signal = "auth-expired"

	// SignalAuthSet fires when credentials with session attributes are stored
	SignalAuthSet Signal = "auth-set"

	// SignalPlanUpdated fires when the tenant's plan changes
	SignalPlanUpdated Signal = "plan-updated"

	// SignalSubscriptionRequired fires on HTTP 402 SUBSCRIPTION_REQUIRED. Payload is the parsed body.
	SignalSubscriptionRequired Signal = "subscription-required"
)

// Event is delivered to subscribers.
type Event struct {
	Signal  Signal
	Payload any
}

// Handler receives events
type Handler func(Event)

// EventBus is an in-process publish/subscribe registry owned by a Session.
// Handlers run synchronously on the emitting goroutine, in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Signal]map[uint64]Handler
}

// NewEventBus creates an empty bus
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[Signal]map[uint64]Handler)}
}

// Subscribe registers h for sig and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *EventBus) Subscribe(sig Signal, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[sig] == nil {
		b.handlers[sig] = make(map[uint64]Handler)
	}
	b.handlers[sig][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[sig], id)
	}
}

// Emit delivers an event to every current subscriber of sig.
func (b *EventBus) Emit(sig Signal, payload any) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers[sig]))
	for id := range b.handlers[sig] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, b.handlers[sig][id])
	}
	b.mu.RUnlock()

	ev := Event{Signal: sig, Payload: payload}
	for _, h := range hs {
		h(ev)
	}
}

// Subscribers returns the number of handlers registered for sig
func (b *EventBus) Subscribers(sig Signal) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[sig])
}
