package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/data/db"
)

// timeFormat is RFC 3339 with fixed-width nanoseconds so that lexicographic
// ordering of stored timestamps matches chronological ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const itemColumns = `id, type, title, url, status, previous_status, metadata,
       created_at, last_checked_at, last_updated_at, archived_at,
       archived, checked, polling_interval_override`

// ItemStore implements item.Store using SQLite.
type ItemStore struct {
	db *db.DB
}

var _ item.Store = (*ItemStore)(nil)

// NewItemStore creates a new SQLite-backed item store.
func NewItemStore(db *db.DB) *ItemStore {
	return &ItemStore{db: db}
}

// Add inserts a new item.
func (s *ItemStore) Add(ctx context.Context, it item.Item) error {
	metadata, err := marshalMetadata(it.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	createdAt := it.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO items (id, type, title, url, status, previous_status, metadata,
		                   created_at, last_checked_at, last_updated_at, archived_at,
		                   archived, checked, polling_interval_override)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID,
		string(it.Type),
		it.Title,
		toNullString(it.URL),
		string(it.Status),
		toNullString(string(it.PreviousStatus)),
		metadata,
		formatTime(createdAt),
		formatTimePtr(it.LastCheckedAt),
		formatTimePtr(it.LastUpdatedAt),
		formatTimePtr(it.ArchivedAt),
		boolToInt(it.Archived),
		boolToInt(it.Checked),
		nullableInt64(it.PollingIntervalOverride),
	)
	if err != nil {
		return fmt.Errorf("failed to add item: %w", err)
	}

	return nil
}

// Get returns an item by ID. Returns item.ErrNotFound if not found.
func (s *ItemStore) Get(ctx context.Context, id string) (item.Item, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)

	it, err := scanItem(row)
	if IsNotFoundError(err) {
		return item.Item{}, item.ErrNotFound
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("failed to get item: %w", err)
	}

	return it, nil
}

// List returns items matching the filter, newest first.
func (s *ItemStore) List(ctx context.Context, filter item.ListFilter) ([]item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`

	switch filter {
	case item.ListVisible:
		query += ` WHERE archived = 0 AND checked = 0`
	case item.ListArchived:
		query += ` WHERE archived = 1`
	case item.ListUnarchived:
		query += ` WHERE archived = 0`
	}

	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Conn().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}

	return items, nil
}

// UpdateStatus transitions an item to a new status. The current status is
// snapshotted into previous_status, both timestamps refresh, and merge (when
// non-nil) is folded into the stored metadata. The read and the write run in
// one transaction so concurrent pollers of the same item cannot interleave.
func (s *ItemStore) UpdateStatus(ctx context.Context, id string, status item.Status, merge map[string]any) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, metadata, err := readStatusAndMetadata(ctx, tx, id)
		if err != nil {
			return err
		}

		now := formatTime(time.Now())

		if merge == nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE items SET status = ?, previous_status = ?,
				       last_checked_at = ?, last_updated_at = ?
				WHERE id = ?`,
				string(status), current, now, now, id)
			if err != nil {
				return fmt.Errorf("failed to update status: %w", err)
			}
			return nil
		}

		merged, err := mergeStoredMetadata(metadata, merge)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE items SET status = ?, previous_status = ?,
			       last_checked_at = ?, last_updated_at = ?, metadata = ?
			WHERE id = ?`,
			string(status), current, now, now, merged, id)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
}

// Touch refreshes last_checked_at and nothing else, so re-polls of unchanged
// remote state are idempotent on status, previous_status, and metadata.
func (s *ItemStore) Touch(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE items SET last_checked_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to touch item: %w", err)
	}
	return requireRow(res)
}

// RecordError merges the error and its timestamp into metadata. When fatal,
// status flips to failed exactly once: an already-failed item keeps its
// previous_status so repeated permanent failures do not erase it.
func (s *ItemStore) RecordError(ctx context.Context, id string, msg string, fatal bool) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, metadata, err := readStatusAndMetadata(ctx, tx, id)
		if err != nil {
			return err
		}

		now := time.Now()
		merged, err := mergeStoredMetadata(metadata, map[string]any{
			item.MetaLastError:   msg,
			item.MetaLastErrorAt: formatTime(now),
		})
		if err != nil {
			return err
		}

		if fatal && item.Status(current) != item.StatusFailed {
			_, err = tx.ExecContext(ctx, `
				UPDATE items SET status = ?, previous_status = ?,
				       last_checked_at = ?, last_updated_at = ?, metadata = ?
				WHERE id = ?`,
				string(item.StatusFailed), current, formatTime(now), formatTime(now), merged, id)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE items SET last_checked_at = ?, metadata = ? WHERE id = ?`,
				formatTime(now), merged, id)
		}
		if err != nil {
			return fmt.Errorf("failed to record error: %w", err)
		}
		return nil
	})
}

// SetTitle replaces the item title.
func (s *ItemStore) SetTitle(ctx context.Context, id string, title string) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE items SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	return requireRow(res)
}

// SetChecked sets the acknowledged flag.
func (s *ItemStore) SetChecked(ctx context.Context, id string, checked bool) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE items SET checked = ? WHERE id = ?`, boolToInt(checked), id)
	if err != nil {
		return fmt.Errorf("failed to set checked: %w", err)
	}
	return requireRow(res)
}

// Archive marks items archived, stamps archived_at, and forces checked so
// they leave the actionable count.
func (s *ItemStore) Archive(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, formatTime(time.Now()))
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := s.db.Conn().ExecContext(ctx,
		`UPDATE items SET archived = 1, checked = 1, archived_at = ? WHERE id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to archive items: %w", err)
	}
	return nil
}

// Unarchive clears the archived flag and archived_at.
func (s *ItemStore) Unarchive(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx,
		`UPDATE items SET archived = 0, archived_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to unarchive item: %w", err)
	}
	return requireRow(res)
}

// ArchiveStale archives completed/failed items not updated within olderThan.
func (s *ItemStore) ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	res, err := s.db.Conn().ExecContext(ctx, `
		UPDATE items SET archived = 1, checked = 1, archived_at = ?
		WHERE archived = 0
		  AND status IN (?, ?)
		  AND COALESCE(last_updated_at, created_at) < ?`,
		formatTime(time.Now()), string(item.StatusCompleted), string(item.StatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive stale items: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// RemoveStale deletes archived items archived before the cutoff.
func (s *ItemStore) RemoveStale(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM items WHERE archived = 1 AND archived_at IS NOT NULL AND archived_at < ?`,
		formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to remove stale items: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// RemoveClosed deletes items whose status is closed.
func (s *ItemStore) RemoveClosed(ctx context.Context) (int, error) {
	res, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM items WHERE status = ?`, string(item.StatusClosed))
	if err != nil {
		return 0, fmt.Errorf("failed to remove closed items: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// Remove deletes an item by ID. Returns item.ErrNotFound if not found.
func (s *ItemStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	return requireRow(res)
}

// CountActionable counts visible items in an attention-worthy status.
func (s *ItemStore) CountActionable(ctx context.Context) (int64, error) {
	statuses := []item.Status{
		item.StatusCompleted, item.StatusFailed, item.StatusUpdated,
		item.StatusApproved, item.StatusMerged, item.StatusWaiting,
		item.StatusInputNeeded,
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, string(st))
	}

	var count int64
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE archived = 0 AND checked = 0 AND status IN (`+placeholders+`)`,
		args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count actionable items: %w", err)
	}

	return count, nil
}

// readStatusAndMetadata reads the current status and raw metadata of an item
// inside a transaction. Returns item.ErrNotFound for unknown ids.
func readStatusAndMetadata(ctx context.Context, tx *sql.Tx, id string) (string, string, error) {
	var status, metadata string
	err := tx.QueryRowContext(ctx,
		`SELECT status, metadata FROM items WHERE id = ?`, id).Scan(&status, &metadata)
	if IsNotFoundError(err) {
		return "", "", item.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read item: %w", err)
	}
	return status, metadata, nil
}

// mergeStoredMetadata folds merge into the stored JSON document. The stored
// document always deserializes as an object; a corrupt one is replaced.
func mergeStoredMetadata(stored string, merge map[string]any) (string, error) {
	current := make(map[string]any)
	if stored != "" {
		// Corrupt metadata is not fatal: start from an empty object.
		_ = json.Unmarshal([]byte(stored), &current)
	}

	current = item.MergeMetadata(current, merge)

	data, err := json.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem converts a row into an item.Item.
func scanItem(row rowScanner) (item.Item, error) {
	var (
		it             item.Item
		itemType       string
		status         string
		url            sql.NullString
		previousStatus sql.NullString
		metadata       string
		createdAt      string
		lastCheckedAt  sql.NullString
		lastUpdatedAt  sql.NullString
		archivedAt     sql.NullString
		archived       int
		checked        int
		override       sql.NullInt64
	)

	err := row.Scan(&it.ID, &itemType, &it.Title, &url, &status, &previousStatus,
		&metadata, &createdAt, &lastCheckedAt, &lastUpdatedAt, &archivedAt,
		&archived, &checked, &override)
	if err != nil {
		return item.Item{}, err
	}

	it.Type = item.Type(itemType)
	it.Status = item.Status(status)
	it.PreviousStatus = item.Status(previousStatus.String)
	it.URL = url.String
	it.Archived = archived != 0
	it.Checked = checked != 0

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &it.Metadata); err != nil {
			return item.Item{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if it.Metadata == nil {
		it.Metadata = make(map[string]any)
	}

	it.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return item.Item{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	it.LastCheckedAt = parseTimePtr(lastCheckedAt)
	it.LastUpdatedAt = parseTimePtr(lastUpdatedAt)
	it.ArchivedAt = parseTimePtr(archivedAt)

	if override.Valid {
		v := override.Int64
		it.PollingIntervalOverride = &v
	}

	return it, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return item.ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
