package eventbus

import (
	"fmt"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/notify"
)

// NotificationRouter maps status transitions to user-facing notifications.
type NotificationRouter struct {
	bus *EventBus
}

// NewNotificationRouter constructs a router for event-to-notification mappings.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus}
}

// Register subscribes all supported event mappings.
func (r *NotificationRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeItemStatusChanged(func(p ItemStatusChangedPayload) {
		if p.Item == nil {
			return
		}

		switch p.NewStatus {
		case item.StatusInputNeeded:
			r.notifyf(notify.LevelWarning, p.Item.ID, "%s needs your input", p.Item.Title)
		case item.StatusFailed:
			r.notifyf(notify.LevelError, p.Item.ID, "%s failed", p.Item.Title)
		case item.StatusUpdated:
			r.notifyf(notify.LevelInfo, p.Item.ID, "%s has new activity", p.Item.Title)
		case item.StatusArchived:
			if p.Item.Type.IsAgentSession() {
				r.notifyf(notify.LevelInfo, p.Item.ID, "session %q was archived", p.Item.Title)
			}
		}
	})
}

func (r *NotificationRouter) notifyf(level notify.Level, itemID, format string, args ...any) {
	r.bus.PublishNotificationPublished(NotificationPublishedPayload{
		Level:   level,
		ItemID:  itemID,
		Message: fmt.Sprintf(format, args...),
	})
}
