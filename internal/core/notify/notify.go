// Package notify defines the notification boundary between the engine and
// whatever delivers alerts to the user (tray, desktop notifications).
package notify

import (
	"context"
	"time"
)

// Level represents the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single user-facing event.
type Notification struct {
	ID        int64
	Level     Level
	ItemID    string
	Message   string
	CreatedAt time.Time
}

// Store persists notifications. Delivery to the OS is a collaborator behind
// this interface; the engine only writes records.
type Store interface {
	Save(ctx context.Context, n Notification) (int64, error)
	List(ctx context.Context, limit int) ([]Notification, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}
