// Package loop implements the reconciliation engine: source adapters,
// session discovery, the error classifier, and the tick loop that keeps
// item statuses current.
package loop

import (
	"context"

	"github.com/colonyops/inloop/internal/core/item"
)

// Result is an adapter's proposal after polling remote state. The engine,
// not the adapter, applies it to the store.
type Result struct {
	// Status is the candidate status. Adapters that observe no change
	// return the item's current status.
	Status item.Status

	// Metadata is merged into the item's stored metadata on update.
	Metadata map[string]any

	// Title refines the item title when non-empty.
	Title string

	// Backfilled marks that identifying metadata was missing and has been
	// re-derived; the engine must persist it even without a status change.
	Backfilled bool
}

// Adapter knows how to fetch and normalize external state for one item type.
// Poll must not write to the store: it reads item state and returns a Result.
type Adapter interface {
	Type() item.Type
	Poll(ctx context.Context, it item.Item) (Result, error)
}

// TickPreparer is implemented by adapters that need per-tick shared context,
// fetched once per tick instead of once per item.
type TickPreparer interface {
	PrepareTick(ctx context.Context) error
}
