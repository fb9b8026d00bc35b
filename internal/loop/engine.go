package loop

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
)

// DefaultPollWorkers bounds concurrent polls within one tick.
const DefaultPollWorkers = 4

// EngineOptions configures a reconciliation engine.
type EngineOptions struct {
	Items     item.Store
	Settings  kv.KV
	Adapters  []Adapter
	Discovery *Discovery
	Bus       *eventbus.EventBus
	Logger    zerolog.Logger

	// Workers bounds concurrent polls per tick. Zero means DefaultPollWorkers.
	Workers int
}

// Engine drives the reconciliation loop: discovery, then a bounded-
// concurrency poll of every eligible item, repeated on the configured
// interval until the context is cancelled.
type Engine struct {
	items     item.Store
	settings  kv.KV
	adapters  map[item.Type]Adapter
	discovery *Discovery
	bus       *eventbus.EventBus
	log       zerolog.Logger
	workers   int
	nudge     chan struct{}
}

// NewEngine builds an engine from options.
func NewEngine(opts EngineOptions) *Engine {
	adapters := make(map[item.Type]Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.Type()] = a
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultPollWorkers
	}

	return &Engine{
		items:     opts.Items,
		settings:  opts.Settings,
		adapters:  adapters,
		discovery: opts.Discovery,
		bus:       opts.Bus,
		log:       opts.Logger,
		workers:   workers,
		nudge:     make(chan struct{}, 1),
	}
}

// Nudge wakes the loop for an early tick. At most one nudge is pending; the
// call never blocks.
func (e *Engine) Nudge() {
	select {
	case e.nudge <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is cancelled. The sleep interval is read fresh from
// the settings table every iteration so changes take effect on the next
// loop.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Int("workers", e.workers).Msg("reconciliation engine started")

	for {
		e.Tick(ctx)

		timer := time.NewTimer(e.interval(ctx))
		select {
		case <-ctx.Done():
			timer.Stop()
			e.log.Info().Msg("reconciliation engine stopped")
			return nil
		case <-timer.C:
		case <-e.nudge:
			timer.Stop()
			e.log.Debug().Msg("tick nudged")
		}
	}
}

func (e *Engine) interval(ctx context.Context) time.Duration {
	raw, ok, err := e.settings.Get(ctx, kv.KeyPollingInterval)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read polling interval")
	}

	seconds := kv.DefaultPollingInterval
	if ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			seconds = n
		}
	}
	return time.Duration(seconds) * time.Second
}

// Tick runs one reconciliation pass: per-tick adapter context, discovery,
// then polling. One item's failure never aborts the tick.
func (e *Engine) Tick(ctx context.Context) {
	for _, a := range e.adapters {
		if p, ok := a.(TickPreparer); ok {
			if err := p.PrepareTick(ctx); err != nil {
				e.log.Warn().Err(err).Str("type", string(a.Type())).Msg("tick preparation failed")
			}
		}
	}

	if e.discovery != nil {
		e.discovery.Run(ctx)
	}

	// Re-read after discovery so sessions discovered this tick are polled
	// in the same tick.
	items, err := e.items.List(ctx, item.ListAll)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to list items for tick")
		return
	}

	var polled, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range items {
		it := items[i]
		if e.skip(it) {
			continue
		}

		g.Go(func() error {
			polled.Add(1)
			if !e.pollOne(gctx, it) {
				failed.Add(1)
			}
			return nil
		})
	}

	_ = g.Wait()

	e.bus.PublishTickCompleted(eventbus.TickCompletedPayload{
		Polled: int(polled.Load()),
		Failed: int(failed.Load()),
	})
}

// skip decides whether an item sits this tick out. Agent sessions are polled
// even when archived or terminal so remote archival and reactivation are
// observed; ingested items are never polled.
func (e *Engine) skip(it item.Item) bool {
	if it.Type == item.TypeIngestedSession {
		return true
	}
	if _, ok := e.adapters[it.Type]; !ok {
		return true
	}
	if it.Type.IsAgentSession() {
		return false
	}
	return it.Archived || it.Status.Terminal()
}

// pollOne polls a single item and applies the outcome. Reports success.
func (e *Engine) pollOne(ctx context.Context, it item.Item) bool {
	adapter := e.adapters[it.Type]

	res, err := adapter.Poll(ctx, it)
	if err != nil {
		e.recordFailure(ctx, it, err)
		return false
	}

	if err := e.apply(ctx, it, res); err != nil {
		e.log.Error().Err(err).Str("item_id", it.ID).Msg("failed to apply poll result")
		return false
	}
	return true
}

func (e *Engine) recordFailure(ctx context.Context, it item.Item, pollErr error) {
	fatal := Classify(it.Type, pollErr) == Permanent

	e.log.Warn().
		Err(pollErr).
		Str("item_id", it.ID).
		Str("type", string(it.Type)).
		Bool("fatal", fatal).
		Msg("poll failed")

	if err := e.items.RecordError(ctx, it.ID, pollErr.Error(), fatal); err != nil {
		e.log.Error().Err(err).Str("item_id", it.ID).Msg("failed to record poll error")
		return
	}

	if fatal && it.Status != item.StatusFailed {
		updated := it
		updated.PreviousStatus = it.Status
		updated.Status = item.StatusFailed
		e.bus.PublishItemStatusChanged(eventbus.ItemStatusChangedPayload{
			Item:      &updated,
			OldStatus: it.Status,
			NewStatus: item.StatusFailed,
		})
	}
}

// apply persists an adapter result. The store is written through
// UpdateStatus only when the status changed or identifying metadata must be
// backfilled; otherwise the no-op Touch path refreshes last_checked_at.
func (e *Engine) apply(ctx context.Context, it item.Item, res Result) error {
	status := res.Status
	if status == "" {
		status = it.Status
	}

	changed := status != it.Status

	if changed || res.Backfilled {
		if err := e.items.UpdateStatus(ctx, it.ID, status, res.Metadata); err != nil {
			return err
		}
	} else {
		if err := e.items.Touch(ctx, it.ID); err != nil {
			return err
		}
	}

	if res.Title != "" && res.Title != it.Title {
		if err := e.items.SetTitle(ctx, it.ID, res.Title); err != nil {
			return err
		}
	}

	if !changed {
		return nil
	}

	if err := e.afterTransition(ctx, it, status); err != nil {
		return err
	}

	updated := it
	updated.PreviousStatus = it.Status
	updated.Status = status
	e.bus.PublishItemStatusChanged(eventbus.ItemStatusChangedPayload{
		Item:      &updated,
		OldStatus: it.Status,
		NewStatus: status,
	})

	e.log.Info().
		Str("item_id", it.ID).
		Str("type", string(it.Type)).
		Str("from", string(it.Status)).
		Str("to", string(status)).
		Msg("item status changed")

	return nil
}

// afterTransition applies the side effects a status change carries: remote
// archival archives the local item, and a terminal item coming back to life
// is resurfaced by clearing checked (and unarchiving agent sessions).
func (e *Engine) afterTransition(ctx context.Context, it item.Item, status item.Status) error {
	if status == item.StatusArchived && it.Type.IsAgentSession() && !it.Archived {
		if err := e.items.Archive(ctx, it.ID); err != nil {
			return err
		}
	}

	resurfaced := it.Status.Terminal() &&
		(status == item.StatusInProgress || status == item.StatusWaiting || status == item.StatusInputNeeded)
	if resurfaced {
		if it.Checked {
			if err := e.items.SetChecked(ctx, it.ID, false); err != nil {
				return err
			}
		}
		if it.Archived && it.Type.IsAgentSession() {
			if err := e.items.Unarchive(ctx, it.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
