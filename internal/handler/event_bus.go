// internal/handler/event_bus.go
package handler

import (
	"sync"

	"go.uber.org/zap"

	"node-service/internal/model"
)

const (
	eventBufferSize      = 1000
	subscriberBufferSize = 100
)

// EventBus fans discovery events out to subscribers. Publish never blocks:
// when the bus or a subscriber is full the event is dropped.
type EventBus struct {
	subscribers map[model.EventType][]chan model.DiscoveryEvent
	wildcard    []chan model.DiscoveryEvent
	events      chan model.DiscoveryEvent
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[model.EventType][]chan model.DiscoveryEvent),
		events:      make(chan model.DiscoveryEvent, eventBufferSize),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until Close is called
func (eb *EventBus) Start() {
	for {
		select {
		case <-eb.done:
			return
		case event := <-eb.events:
			eb.distributeEvent(event)
		}
	}
}

// Close stops distribution. Subscriber channels are left open.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() { close(eb.done) })
}

// Publish publishes an event
func (eb *EventBus) Publish(event model.DiscoveryEvent) {
	select {
	case <-eb.done:
		return
	default:
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("run_id", event.RunID.String()),
		)
	}
}

// Subscribe returns a channel receiving events of the given types, or every
// event when no type is given. The returned func cancels the subscription.
func (eb *EventBus) Subscribe(eventTypes ...model.EventType) (<-chan model.DiscoveryEvent, func()) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan model.DiscoveryEvent, subscriberBufferSize)
	if len(eventTypes) == 0 {
		eb.wildcard = append(eb.wildcard, subscriber)
	}
	for _, eventType := range eventTypes {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	}

	return subscriber, func() { eb.unsubscribe(subscriber) }
}

func (eb *EventBus) unsubscribe(subscriber chan model.DiscoveryEvent) {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.wildcard = without(eb.wildcard, subscriber)
	for eventType, subs := range eb.subscribers {
		eb.subscribers[eventType] = without(subs, subscriber)
	}
}

func without(subs []chan model.DiscoveryEvent, target chan model.DiscoveryEvent) []chan model.DiscoveryEvent {
	kept := subs[:0]
	for _, sub := range subs {
		if sub != target {
			kept = append(kept, sub)
		}
	}
	return kept
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event model.DiscoveryEvent) {
	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	deliver := func(subscriber chan model.DiscoveryEvent) {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
	for _, subscriber := range eb.subscribers[event.EventType] {
		deliver(subscriber)
	}
	for _, subscriber := range eb.wildcard {
		deliver(subscriber)
	}
}
