package item

import (
	"context"
	"time"
)

// ListFilter selects which items a List call returns.
type ListFilter int

const (
	// ListAll returns every item, archived or not.
	ListAll ListFilter = iota
	// ListVisible returns unarchived, unchecked items, newest first.
	ListVisible
	// ListArchived returns archived items, newest first.
	ListArchived
	// ListUnarchived returns all unarchived items regardless of checked.
	ListUnarchived
)

// Store persists items. Every method is independently atomic; multi-step
// read-modify-write sequences (UpdateStatus, RecordError) execute inside a
// single transaction so concurrent pollers cannot interleave on one item.
type Store interface {
	Add(ctx context.Context, it Item) error
	Get(ctx context.Context, id string) (Item, error)
	List(ctx context.Context, filter ListFilter) ([]Item, error)

	// UpdateStatus sets a new status, snapshots the old status into
	// previous_status, refreshes both timestamps, and merges metadata
	// (nil merge leaves metadata untouched) in one transaction.
	UpdateStatus(ctx context.Context, id string, status Status, merge map[string]any) error

	// Touch refreshes last_checked_at only. Status, previous_status,
	// last_updated_at and metadata are left untouched.
	Touch(ctx context.Context, id string) error

	// RecordError merges last_error/last_error_at into metadata and
	// refreshes last_checked_at. When fatal, the status is forced to
	// failed exactly once: an item that is already failed keeps its
	// previous_status.
	RecordError(ctx context.Context, id string, msg string, fatal bool) error

	// SetTitle replaces the item title. Adapters refine placeholder titles
	// once the source reveals a better one.
	SetTitle(ctx context.Context, id string, title string) error

	SetChecked(ctx context.Context, id string, checked bool) error
	Archive(ctx context.Context, ids ...string) error
	Unarchive(ctx context.Context, id string) error

	// ArchiveStale archives completed/failed items whose last update is
	// older than the given window.
	ArchiveStale(ctx context.Context, olderThan time.Duration) (int, error)

	// RemoveStale deletes archived items archived before the cutoff.
	RemoveStale(ctx context.Context, before time.Time) (int, error)
	// RemoveClosed deletes items whose status is closed.
	RemoveClosed(ctx context.Context) (int, error)
	Remove(ctx context.Context, id string) error

	CountActionable(ctx context.Context) (int64, error)
}
