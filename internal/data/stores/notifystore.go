package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/inloop/internal/core/notify"
	"github.com/colonyops/inloop/internal/data/db"
)

// NotifyStore implements notify.Store using SQLite.
type NotifyStore struct {
	db *db.DB
}

var _ notify.Store = (*NotifyStore)(nil)

// NewNotifyStore creates a new SQLite-backed notification store.
func NewNotifyStore(db *db.DB) *NotifyStore {
	return &NotifyStore{db: db}
}

// Save persists a notification and returns its id.
func (s *NotifyStore) Save(ctx context.Context, n notify.Notification) (int64, error) {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.Conn().ExecContext(ctx, `
		INSERT INTO notifications (level, item_id, message, created_at)
		VALUES (?, ?, ?, ?)`,
		string(n.Level), toNullString(n.ItemID), n.Message, formatTime(createdAt))
	if err != nil {
		return 0, fmt.Errorf("failed to save notification: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read notification id: %w", err)
	}
	return id, nil
}

// List returns the most recent notifications, newest first. limit <= 0
// means no limit.
func (s *NotifyStore) List(ctx context.Context, limit int) ([]notify.Notification, error) {
	query := `SELECT id, level, item_id, message, created_at FROM notifications ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []notify.Notification
	for rows.Next() {
		var (
			n         notify.Notification
			level     string
			itemID    []byte
			createdAt string
		)
		if err := rows.Scan(&n.ID, &level, &itemID, &n.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Level = notify.Level(level)
		n.ItemID = string(itemID)
		if t, err := parseTime(createdAt); err == nil {
			n.CreatedAt = t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Clear removes all notifications.
func (s *NotifyStore) Clear(ctx context.Context) error {
	if _, err := s.db.Conn().ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return fmt.Errorf("failed to clear notifications: %w", err)
	}
	return nil
}

// Count returns the number of stored notifications.
func (s *NotifyStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}
