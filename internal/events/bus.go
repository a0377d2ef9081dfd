// Package events provides the in-process pub-sub bus used for optimization
// lifecycle notifications. Delivery is best-effort within the process: a
// failing or missing subscriber never aborts the publisher.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a lifecycle event on the bus.
type EventType string

const (
	OptimizationRequested EventType = "optimization.requested"
	OptimizationStarted   EventType = "optimization.started"
	OptimizationProgress  EventType = "optimization.progress"
	OptimizationCompleted EventType = "optimization.completed"
	OptimizationFailed    EventType = "optimization.failed"
	PlanStatusUpdated     EventType = "plan.status.updated"
	ProductionCompleted   EventType = "production.completed"
)

// Event is a single published event.
type Event struct {
	Type          EventType              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Data          map[string]interface{} `json:"data"`
}

// Handler consumes a published event.
type Handler func(*Event)

// Bus is a typed in-process pub-sub bus. Subscriptions happen at startup;
// Publish may be called from any goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler that receives every event. Used by the
// websocket forwarder and the external bus sink.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching handlers synchronously.
// A panicking handler is logged and skipped.
func (b *Bus) Publish(t EventType, correlationID string, data map[string]interface{}) {
	event := &Event{
		Type:          t,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		Data:          data,
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[t])+len(b.all))
	handlers = append(handlers, b.handlers[t]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
