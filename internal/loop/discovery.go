package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
)

// Discovery turns externally created agent sessions into tracked items and
// keeps wrapper-created cli_session items linked and deduplicated.
type Discovery struct {
	items    item.Store
	bus      *eventbus.EventBus
	opencode *OpenCodeAdapter
	copilot  *CopilotStore
	log      zerolog.Logger
}

// NewDiscovery wires a discovery pass. opencode and copilot may be nil when
// the respective source is not configured.
func NewDiscovery(items item.Store, bus *eventbus.EventBus, opencode *OpenCodeAdapter, copilot *CopilotStore, log zerolog.Logger) *Discovery {
	return &Discovery{
		items:    items,
		bus:      bus,
		opencode: opencode,
		copilot:  copilot,
		log:      log,
	}
}

// Run executes one discovery pass. Re-running over identical listings
// creates nothing new. Failures are logged per source; discovery never
// aborts the tick.
func (d *Discovery) Run(ctx context.Context) {
	if d.opencode != nil {
		if err := d.runOpenCode(ctx); err != nil {
			d.log.Warn().Err(err).Msg("opencode discovery failed")
		}
	}
	if d.copilot != nil {
		if err := d.runCopilot(ctx); err != nil {
			d.log.Warn().Err(err).Msg("copilot discovery failed")
		}
		if err := d.reconcileCLISessions(ctx); err != nil {
			d.log.Warn().Err(err).Msg("cli session reconcile failed")
		}
	}
}

// trackedSessionIDs returns the set of external session ids already recorded
// by any item, archived ones included so removed items do not resurrect.
func (d *Discovery) trackedSessionIDs(ctx context.Context) (map[string]bool, []item.Item, error) {
	items, err := d.items.List(ctx, item.ListAll)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list items: %w", err)
	}

	tracked := make(map[string]bool)
	for i := range items {
		if id := items[i].MetaString(item.MetaSessionID); id != "" {
			tracked[id] = true
		}
	}
	return tracked, items, nil
}

func (d *Discovery) runOpenCode(ctx context.Context) error {
	occ, err := d.opencode.Context()
	if err != nil {
		return err
	}
	if occ == nil {
		return nil
	}

	tracked, _, err := d.trackedSessionIDs(ctx)
	if err != nil {
		return err
	}

	for id, sess := range occ.Sessions {
		// Sub-agent sessions never become items of their own.
		if sess.ParentID != "" {
			continue
		}
		if tracked[id] {
			continue
		}

		status := item.StatusCompleted
		checked := false
		switch {
		case sess.IsArchived():
			status = item.StatusArchived
			checked = true
		case occ.Statuses[id] == "busy" || occ.Statuses[id] == "retry":
			status = item.StatusInProgress
		}

		title := sess.Title
		if title == "" {
			title = "OpenCode session"
		}

		it := item.Item{
			ID:      uuid.NewString(),
			Type:    item.TypeOpenCodeSession,
			Title:   title,
			URL:     OpenCodeWebURL(occ.BaseURL, sess.Directory),
			Status:  status,
			Checked: checked,
			Metadata: map[string]any{
				item.MetaSessionID: id,
				item.MetaDirectory: sess.Directory,
			},
			CreatedAt: time.Now(),
		}

		if err := d.items.Add(ctx, it); err != nil {
			return fmt.Errorf("failed to add opencode session: %w", err)
		}
		d.bus.PublishItemCreated(eventbus.ItemCreatedPayload{Item: &it})
		d.log.Info().Str("session_id", id).Str("status", string(status)).Msg("discovered opencode session")
	}

	return nil
}

func (d *Discovery) runCopilot(ctx context.Context) error {
	tracked, _, err := d.trackedSessionIDs(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, sess := range d.copilot.DiscoverSessions() {
		if tracked[sess.ID] {
			continue
		}

		var status item.Status
		switch d.copilot.DetectActivity(sess.ID, now) {
		case ActivityInProgress:
			status = item.StatusInProgress
		case ActivityInputNeeded:
			status = item.StatusInputNeeded
		default:
			status = item.StatusCompleted
		}

		title := sess.DisplayName()
		if title == "" {
			title = d.copilot.FirstUserMessage(sess.ID)
		}
		if title == "" {
			title = "Copilot session " + shortID(sess.ID)
		}

		meta := map[string]any{item.MetaSessionID: sess.ID}
		if sess.Cwd != "" {
			meta[item.MetaCwd] = sess.Cwd
		}
		if sess.Repository != "" {
			meta["repository"] = sess.Repository
		}
		if sess.Branch != "" {
			meta["branch"] = sess.Branch
		}

		it := item.Item{
			ID:        uuid.NewString(),
			Type:      item.TypeCopilotSession,
			Title:     TruncateTitle(title),
			Status:    status,
			Metadata:  meta,
			CreatedAt: now,
		}

		if err := d.items.Add(ctx, it); err != nil {
			return fmt.Errorf("failed to add copilot session: %w", err)
		}
		d.bus.PublishItemCreated(eventbus.ItemCreatedPayload{Item: &it})
		d.log.Info().Str("session_id", sess.ID).Str("status", string(status)).Msg("discovered copilot session")
	}

	return nil
}

// reconcileCLISessions links wrapper-created cli_session items to the
// on-disk Copilot session they spawned, deletes the duplicate
// copilot_session item once linked, and closes other open cli_session items
// that share a working directory with a confirmed-active one.
func (d *Discovery) reconcileCLISessions(ctx context.Context) error {
	_, items, err := d.trackedSessionIDs(ctx)
	if err != nil {
		return err
	}

	for i := range items {
		it := items[i]
		if it.Type != item.TypeCLISession || it.MetaString(item.MetaSessionID) != "" {
			continue
		}

		sess, ok := d.copilot.FindByTime(it.CreatedAt)
		if !ok {
			if cwd := it.MetaString(item.MetaCwd); cwd != "" {
				sess, ok = d.copilot.FindByCwd(cwd)
			}
		}
		if !ok {
			continue
		}

		merge := map[string]any{item.MetaSessionID: sess.ID}
		if sess.Cwd != "" {
			merge[item.MetaCwd] = sess.Cwd
		}
		if err := d.items.UpdateStatus(ctx, it.ID, it.Status, merge); err != nil {
			return fmt.Errorf("failed to link cli session: %w", err)
		}
		d.log.Info().Str("item_id", it.ID).Str("session_id", sess.ID).Msg("linked cli session")

		// The raw wrapper item wins; a previously discovered copilot_session
		// for the same underlying session is a duplicate.
		for j := range items {
			dup := items[j]
			if dup.Type != item.TypeCopilotSession || dup.MetaString(item.MetaSessionID) != sess.ID {
				continue
			}
			if err := d.items.Remove(ctx, dup.ID); err != nil {
				return fmt.Errorf("failed to remove duplicate session item: %w", err)
			}
			d.bus.PublishItemRemoved(eventbus.ItemRemovedPayload{ItemID: dup.ID})
			d.log.Info().Str("item_id", dup.ID).Str("session_id", sess.ID).Msg("removed duplicate copilot session item")
		}

		if sess.Cwd != "" {
			if err := d.closeSupersededCLI(ctx, items, it.ID, sess.ID, sess.Cwd); err != nil {
				return err
			}
		}
	}

	return nil
}

// closeSupersededCLI marks other open cli_session items for the same working
// directory as closed once a newer session is confirmed active there.
func (d *Discovery) closeSupersededCLI(ctx context.Context, items []item.Item, keepItemID, keepSessionID, cwd string) error {
	active := d.copilot.DetectActivity(keepSessionID, time.Now())
	if active == ActivityIdle {
		return nil
	}

	for i := range items {
		other := items[i]
		if other.Type != item.TypeCLISession || other.ID == keepItemID {
			continue
		}
		if other.Archived || other.Status.Terminal() {
			continue
		}
		if other.MetaString(item.MetaCwd) != cwd {
			continue
		}
		if other.MetaString(item.MetaSessionID) == keepSessionID {
			continue
		}

		if err := d.items.UpdateStatus(ctx, other.ID, item.StatusClosed, nil); err != nil {
			return fmt.Errorf("failed to close superseded cli session: %w", err)
		}
		d.log.Info().Str("item_id", other.ID).Msg("closed superseded cli session")
	}

	return nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
