package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a value delivered to subscribers. Handlers receive values,
// never shared mutable references.
type Event interface {
	Type() string
	Timestamp() time.Time
	Payload() any
}

// BaseEvent is the standard Event implementation.
type BaseEvent struct {
	EventType      string
	EventTimestamp time.Time
	EventPayload   any
}

func (e *BaseEvent) Type() string         { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTimestamp }
func (e *BaseEvent) Payload() any         { return e.EventPayload }

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType string, payload any) *BaseEvent {
	return &BaseEvent{
		EventType:      eventType,
		EventTimestamp: time.Now(),
		EventPayload:   payload,
	}
}

// Handler processes a single event.
type Handler func(ctx context.Context, event Event)

// Bus is a multi-producer/multi-consumer publish-subscribe channel.
// Delivery is best-effort ordered per topic.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType string, handler Handler)
	Close()
}

// InMemoryBus dispatches events from a buffered channel on a single
// goroutine. Handlers run outside any bus lock, so a handler may publish
// or subscribe without deadlocking.
type InMemoryBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	eventChan chan eventWrapper
	closed    bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

type eventWrapper struct {
	ctx   context.Context
	event Event
}

// NewInMemoryBus creates a bus with the given dispatch buffer size.
func NewInMemoryBus(logger *zap.Logger, bufferSize int) *InMemoryBus {
	bus := &InMemoryBus{
		handlers:  make(map[string][]Handler),
		eventChan: make(chan eventWrapper, bufferSize),
		logger:    logger,
	}

	bus.wg.Add(1)
	go bus.dispatch()

	return bus
}

// Publish enqueues an event without blocking. If the buffer is full the
// event is dropped with a warning; events are advisory, not transactional.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.eventChan <- eventWrapper{ctx: ctx, event: event}:
		b.logger.Debug("Event published", zap.String("type", event.Type()))
	default:
		b.logger.Warn("Event buffer full, dropping event", zap.String("type", event.Type()))
	}
}

// Subscribe registers a handler for an event type. "*" matches all types.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("Handler subscribed", zap.String("event_type", eventType))
}

// Close stops dispatch after draining queued events.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.eventChan)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Debug("Event bus closed")
}

func (b *InMemoryBus) dispatch() {
	defer b.wg.Done()

	for wrapper := range b.eventChan {
		b.dispatchEvent(wrapper.ctx, wrapper.event)
	}
}

func (b *InMemoryBus) dispatchEvent(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0)
	if h, ok := b.handlers[event.Type()]; ok {
		handlers = append(handlers, h...)
	}
	if h, ok := b.handlers["*"]; ok {
		handlers = append(handlers, h...)
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("Handler panicked",
						zap.String("event_type", event.Type()),
						zap.Any("panic", r),
					)
				}
			}()
			h(ctx, event)
		}(handler)
	}
}

// Topic constants. Declared here so producers and consumers share one
// vocabulary.
const (
	// EventFallbackNamespace fires on every read or write under a
	// namespace whose master key was derived via the fallback path.
	EventFallbackNamespace = "fallback-namespace"
	// EventSystemPromptUpdated fires whenever the composed system prompt
	// changes.
	EventSystemPromptUpdated = "systemPromptUpdated"
	// EventConfigChanged fires once per changed field on a config update.
	EventConfigChanged = "config_changed"
	// EventShareWarning carries non-fatal findings from share-link
	// extraction (unknown model, forced-local transport, insecure link).
	EventShareWarning = "share_warning"
)

// FallbackNamespacePayload describes a fallback-key access.
type FallbackNamespacePayload struct {
	Namespace string
	Key       string
	Write     bool
}

// ConfigChangedPayload describes a single changed configuration field.
type ConfigChangedPayload struct {
	Field string
	Old   any
	New   any
}

// ShareWarningPayload describes a non-fatal share-link finding.
type ShareWarningPayload struct {
	Reason string
	Detail string
}
