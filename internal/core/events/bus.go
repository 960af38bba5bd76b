// Package events is the in-process pub/sub surface of a session. Instance
// lifecycle and sync capture activity publish here so application code can
// react to the replica without reaching into the sync pipeline itself.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one published occurrence. Type routes it to handlers; Data
// carries a payload documented by the publisher.
type Event struct {
	Type   string
	Source string
	Time   time.Time
	Data   any
}

// Handler consumes a delivered event. It runs in the publisher's goroutine,
// so it should return quickly and offload heavy work. Handler errors are
// joined and returned from Publish.
type Handler func(ev Event) error

// Filter decides whether an event is delivered. If any filter returns
// false, the event is dropped without error.
type Filter func(ev Event) bool

// Stats counts bus activity since construction.
type Stats struct {
	Published     uint64 // publish calls that reached delivery
	Delivered     uint64 // handler invocations
	HandlerErrors uint64 // publishes where one or more handlers failed
	Filtered      uint64 // events dropped by a filter
}

// Subscription is a registered handler. Cancel detaches it; cancelling
// twice is safe.
type Subscription struct {
	id  string
	typ string
	bus *Bus
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) EventType() string { return s.typ }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	_, ok := s.bus.subs[s.typ][s.id]
	return ok
}

// Cancel detaches the handler from the bus.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if m, ok := s.bus.subs[s.typ]; ok {
		delete(m, s.id)
		if len(m) == 0 {
			delete(s.bus.subs, s.typ)
		}
	}
}

// Bus fans events out to handlers subscribed by event type. Delivery is
// synchronous in the publisher's goroutine; all methods are safe for
// concurrent use.
type Bus struct {
	mu    sync.RWMutex
	subs  map[string]map[string]Handler // event type -> subscription id -> handler
	stats Stats
}

// NewBus builds an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[string]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[string]Handler)
	}
	id := uuid.NewString()
	b.subs[eventType][id] = h
	return &Subscription{id: id, typ: eventType, bus: b}
}

// Subscribers reports how many handlers are registered for a type.
func (b *Bus) Subscribers(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Publish delivers ev to every handler subscribed to its type and returns
// their errors joined. An event with a zero Time is stamped now.
func (b *Bus) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type]))
	for _, h := range b.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var all error
	for _, h := range handlers {
		if err := h(ev); err != nil {
			all = errors.Join(all, err)
		}
	}

	b.mu.Lock()
	b.stats.Published++
	b.stats.Delivered += uint64(len(handlers))
	if all != nil {
		b.stats.HandlerErrors++
	}
	b.mu.Unlock()
	return all
}

// PublishWithFilters applies filters before delivery; if any filter rejects
// the event it is dropped silently.
func (b *Bus) PublishWithFilters(ev Event, filters ...Filter) error {
	for _, f := range filters {
		if !f(ev) {
			b.mu.Lock()
			b.stats.Filtered++
			b.mu.Unlock()
			return nil
		}
	}
	return b.Publish(ev)
}

// PublishAsync publishes from a separate goroutine. The returned channel
// receives the joined handler error, or nil, and is then closed.
func (b *Bus) PublishAsync(ev Event) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- b.Publish(ev)
		close(ch)
	}()
	return ch
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}
