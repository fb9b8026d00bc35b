// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within inloop.
package eventbus

import (
	"context"
	"sync"
)

// Event names a bus topic.
type Event string

// Bus events.
const (
	EventItemCreated           Event = "item.created"
	EventItemStatusChanged     Event = "item.status-changed"
	EventItemRemoved           Event = "item.removed"
	EventTickCompleted         Event = "tick.completed"
	EventNotificationPublished Event = "notification.published"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus dispatches events to subscribers from a single goroutine, so
// subscriber callbacks never run concurrently with each other. Publishing
// never blocks: events are dropped when the buffer is full.
type EventBus struct {
	ch chan envelope

	mu   sync.RWMutex
	subs map[Event][]func(any)
}

// New creates an event bus with the given buffer size.
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

// Drain synchronously dispatches all buffered events. Intended for tests
// and shutdown paths where no Start loop is running.
func (bus *EventBus) Drain() {
	for {
		select {
		case env := <-bus.ch:
			bus.dispatch(env)
		default:
			return
		}
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	handlers := make([]func(any), len(bus.subs[env.event]))
	copy(handlers, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() { _ = recover() }()
			fn(env.payload)
		}()
	}
}

func (bus *EventBus) publish(event Event, payload any) {
	select {
	case bus.ch <- envelope{event: event, payload: payload}:
	default:
		// Full buffer: drop rather than block the engine.
	}
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
}
