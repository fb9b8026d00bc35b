package eventbus

import (
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/notify"
)

// ItemCreatedPayload is emitted when discovery or ingestion creates an item.
type ItemCreatedPayload struct {
	Item *item.Item
}

// ItemStatusChangedPayload is emitted after a status transition is persisted.
type ItemStatusChangedPayload struct {
	Item      *item.Item
	OldStatus item.Status
	NewStatus item.Status
}

// ItemRemovedPayload is emitted when an item is deleted (user removal or
// discovery dedup).
type ItemRemovedPayload struct {
	ItemID string
}

// TickCompletedPayload is emitted at the end of every reconciliation tick.
type TickCompletedPayload struct {
	Polled int
	Failed int
}

// NotificationPublishedPayload carries a user-facing notification.
type NotificationPublishedPayload struct {
	Level   notify.Level
	ItemID  string
	Message string
}

// PublishItemCreated publishes an item.created event.
func (bus *EventBus) PublishItemCreated(p ItemCreatedPayload) {
	bus.publish(EventItemCreated, p)
}

// SubscribeItemCreated registers a handler for item.created events.
func (bus *EventBus) SubscribeItemCreated(fn func(ItemCreatedPayload)) {
	bus.subscribe(EventItemCreated, func(v any) {
		if p, ok := v.(ItemCreatedPayload); ok {
			fn(p)
		}
	})
}

// PublishItemStatusChanged publishes an item.status-changed event.
func (bus *EventBus) PublishItemStatusChanged(p ItemStatusChangedPayload) {
	bus.publish(EventItemStatusChanged, p)
}

// SubscribeItemStatusChanged registers a handler for item.status-changed events.
func (bus *EventBus) SubscribeItemStatusChanged(fn func(ItemStatusChangedPayload)) {
	bus.subscribe(EventItemStatusChanged, func(v any) {
		if p, ok := v.(ItemStatusChangedPayload); ok {
			fn(p)
		}
	})
}

// PublishItemRemoved publishes an item.removed event.
func (bus *EventBus) PublishItemRemoved(p ItemRemovedPayload) {
	bus.publish(EventItemRemoved, p)
}

// SubscribeItemRemoved registers a handler for item.removed events.
func (bus *EventBus) SubscribeItemRemoved(fn func(ItemRemovedPayload)) {
	bus.subscribe(EventItemRemoved, func(v any) {
		if p, ok := v.(ItemRemovedPayload); ok {
			fn(p)
		}
	})
}

// PublishTickCompleted publishes a tick.completed event.
func (bus *EventBus) PublishTickCompleted(p TickCompletedPayload) {
	bus.publish(EventTickCompleted, p)
}

// SubscribeTickCompleted registers a handler for tick.completed events.
func (bus *EventBus) SubscribeTickCompleted(fn func(TickCompletedPayload)) {
	bus.subscribe(EventTickCompleted, func(v any) {
		if p, ok := v.(TickCompletedPayload); ok {
			fn(p)
		}
	})
}

// PublishNotificationPublished publishes a notification.published event.
func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.publish(EventNotificationPublished, p)
}

// SubscribeNotificationPublished registers a handler for notification.published events.
func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, func(v any) {
		if p, ok := v.(NotificationPublishedPayload); ok {
			fn(p)
		}
	})
}
