package access

import (
	"log/slog"
	"slices"
	"sync"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// Event types
const (
	EventAttributeRead    = "attribute_read"
	EventAttributeWritten = "attribute_written"
	EventMethodInvoked    = "method_invoked"
)

// Event describes one successful access to an object.
type Event struct {
	Type        string
	ClassID     uint16
	LogicalName cosem.LogicalName
	Index       int
	Value       dlms.Value
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscription struct {
	id        uint64
	eventType string // empty matches every type
	handler   EventHandler
}

// EventBus fans access events out to subscribers, in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates a bus. A nil logger uses slog.Default.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll registers a handler for every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

func (eb *EventBus) subscribe(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs = append(eb.subs, subscription{id: id, eventType: eventType, handler: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()
			eb.subs = slices.DeleteFunc(eb.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Emit calls matching handlers synchronously. A panicking handler is
// recovered and logged so one subscriber cannot break an access batch.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	var matched []EventHandler
	for _, s := range eb.subs {
		if s.eventType == "" || s.eventType == event.Type {
			matched = append(matched, s.handler)
		}
	}
	eb.mu.RUnlock()

	for _, h := range matched {
		eb.deliver(h, event)
	}
}

func (eb *EventBus) deliver(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}
