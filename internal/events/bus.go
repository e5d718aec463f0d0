// Package events provides an in-process publish/subscribe bus for
// system events such as completed market data syncs.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a kind of event
type EventType string

const (
	MarketDataSynced  EventType = "market_data_synced"
	SnapshotsCaptured EventType = "snapshots_captured"
	PortfolioChanged  EventType = "portfolio_changed"
	BackupCompleted   EventType = "backup_completed"
	JobFailed         EventType = "job_failed"
)

// Event is a published event
type Event struct {
	Type      EventType
	Module    string
	Timestamp time.Time
	Data      EventData
}

// Handler receives events. Handlers run synchronously on the publisher's
// goroutine and must not block.
type Handler func(*Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64
	log    zerolog.Logger
}

// NewBus creates an event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[EventType][]subscription),
		log:  log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for eventType and returns a function that
// removes the subscription
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[eventType]
		for i, s := range list {
			if s.id == id {
				b.subs[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers data to every subscriber of its event type
func (b *Bus) Publish(module string, data EventData) {
	ev := &Event{
		Type:      data.EventType(),
		Module:    module,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type]))
	for _, s := range b.subs[ev.Type] {
		handlers = append(handlers, s.handler)
	}
	b.mu.RUnlock()

	b.log.Debug().Str("event_type", string(ev.Type)).Str("module", module).Int("subscribers", len(handlers)).Msg("Publishing event")

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event_type", string(ev.Type)).Msg("Event handler panicked")
		}
	}()
	h(ev)
}
