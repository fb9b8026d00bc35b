package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
)

// fakeAdapter returns a scripted result for every poll of one type.
type fakeAdapter struct {
	typ     item.Type
	result  Result
	err     error
	prepErr error

	polls    atomic.Int64
	prepared atomic.Int64
}

func (a *fakeAdapter) Type() item.Type { return a.typ }

func (a *fakeAdapter) Poll(_ context.Context, _ item.Item) (Result, error) {
	a.polls.Add(1)
	return a.result, a.err
}

func (a *fakeAdapter) PrepareTick(_ context.Context) error {
	a.prepared.Add(1)
	return a.prepErr
}

func newTestEngine(t *testing.T, store item.Store, adapters ...Adapter) (*Engine, *eventbus.EventBus) {
	t.Helper()
	bus := eventbus.New(64)
	e := NewEngine(EngineOptions{
		Items:    store,
		Settings: memKV{},
		Adapters: adapters,
		Bus:      bus,
		Logger:   zerolog.Nop(),
	})
	return e, bus
}

func addItem(t *testing.T, store item.Store, it item.Item) item.Item {
	t.Helper()
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, store.Add(context.Background(), it))
	return it
}

func TestEngineTickEligibility(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	pr := &fakeAdapter{typ: item.TypeGithubPR, result: Result{Status: item.StatusInProgress}}
	oc := &fakeAdapter{typ: item.TypeOpenCodeSession, result: Result{Status: item.StatusCompleted}}

	addItem(t, store, item.Item{Type: item.TypeGithubPR, Title: "open pr", Status: item.StatusInProgress})
	addItem(t, store, item.Item{Type: item.TypeGithubPR, Title: "done pr", Status: item.StatusCompleted})
	addItem(t, store, item.Item{Type: item.TypeSlackThread, Title: "no adapter", Status: item.StatusWaiting})
	addItem(t, store, item.Item{Type: item.TypeIngestedSession, Title: "ingested", Status: item.StatusInProgress})

	// Agent sessions stay on the poll list even when terminal or archived.
	archived := addItem(t, store, item.Item{Type: item.TypeOpenCodeSession, Title: "agent", Status: item.StatusCompleted})
	require.NoError(t, store.Archive(ctx, archived.ID))

	e, bus := newTestEngine(t, store, pr, oc)

	var tick eventbus.TickCompletedPayload
	bus.SubscribeTickCompleted(func(p eventbus.TickCompletedPayload) { tick = p })

	e.Tick(ctx)
	bus.Drain()

	assert.Equal(t, int64(1), pr.polls.Load(), "terminal non-agent items sit the tick out")
	assert.Equal(t, int64(1), oc.polls.Load(), "archived agent sessions keep being polled")
	assert.Equal(t, int64(1), pr.prepared.Load())
	assert.Equal(t, 2, tick.Polled)
	assert.Equal(t, 0, tick.Failed)
}

func TestEngineTickStatusChange(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeGithubAction, result: Result{
		Status:   item.StatusCompleted,
		Metadata: map[string]any{"name": "CI"},
		Title:    "CI run",
	}}
	it := addItem(t, store, item.Item{
		Type:     item.TypeGithubAction,
		Title:    "github_action",
		Status:   item.StatusInProgress,
		Metadata: map[string]any{"run_id": "99"},
	})

	e, bus := newTestEngine(t, store, a)

	var change eventbus.ItemStatusChangedPayload
	bus.SubscribeItemStatusChanged(func(p eventbus.ItemStatusChangedPayload) { change = p })

	e.Tick(ctx)
	bus.Drain()

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusCompleted, got.Status)
	assert.Equal(t, item.StatusInProgress, got.PreviousStatus)
	assert.Equal(t, "CI", got.MetaString("name"))
	assert.Equal(t, "99", got.MetaString("run_id"), "merge keeps identifying metadata")
	assert.Equal(t, "CI run", got.Title)
	assert.NotNil(t, got.LastUpdatedAt)

	require.NotNil(t, change.Item)
	assert.Equal(t, item.StatusInProgress, change.OldStatus)
	assert.Equal(t, item.StatusCompleted, change.NewStatus)
}

func TestEngineTickNoChangeTouches(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeGithubPR, result: Result{
		Status:   item.StatusInProgress,
		Metadata: map[string]any{"review_count": 3},
	}}
	it := addItem(t, store, item.Item{Type: item.TypeGithubPR, Title: "pr", Status: item.StatusInProgress})

	e, bus := newTestEngine(t, store, a)

	var changes int
	bus.SubscribeItemStatusChanged(func(eventbus.ItemStatusChangedPayload) { changes++ })

	e.Tick(ctx)
	bus.Drain()

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusInProgress, got.Status)
	assert.Nil(t, got.LastUpdatedAt, "touch must not count as an update")
	assert.Zero(t, got.MetaInt("review_count"), "touch must not write metadata")
	assert.NotNil(t, got.LastCheckedAt)
	assert.Zero(t, changes)
}

func TestEngineTickBackfillPersistsWithoutChange(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeSlackThread, result: Result{
		Status:     item.StatusWaiting,
		Metadata:   map[string]any{"channel_id": "C1", "thread_ts": "1.2"},
		Backfilled: true,
	}}
	it := addItem(t, store, item.Item{
		Type:   item.TypeSlackThread,
		Title:  "thread",
		Status: item.StatusWaiting,
		URL:    "https://acme.slack.com/archives/C1/p1200",
	})

	e, _ := newTestEngine(t, store, a)
	e.Tick(ctx)

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "C1", got.MetaString("channel_id"))
	assert.Equal(t, "1.2", got.MetaString("thread_ts"))
}

func TestEngineTickTransientFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeSlackThread, err: errors.New("dial tcp: connection refused")}
	it := addItem(t, store, item.Item{Type: item.TypeSlackThread, Title: "thread", Status: item.StatusWaiting})

	e, bus := newTestEngine(t, store, a)

	var tick eventbus.TickCompletedPayload
	bus.SubscribeTickCompleted(func(p eventbus.TickCompletedPayload) { tick = p })

	e.Tick(ctx)
	bus.Drain()

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusWaiting, got.Status, "transient errors never change status")
	assert.Contains(t, got.MetaString(item.MetaLastError), "connection refused")
	assert.Equal(t, 1, tick.Failed)
}

func TestEngineTickPermanentFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeGithubPR, err: errors.New("GitHub API error: 404 Not Found")}
	it := addItem(t, store, item.Item{Type: item.TypeGithubPR, Title: "pr", Status: item.StatusInProgress})

	e, bus := newTestEngine(t, store, a)

	var change eventbus.ItemStatusChangedPayload
	bus.SubscribeItemStatusChanged(func(p eventbus.ItemStatusChangedPayload) { change = p })

	e.Tick(ctx)
	bus.Drain()

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusFailed, got.Status)
	assert.Equal(t, item.StatusInProgress, got.PreviousStatus)

	require.NotNil(t, change.Item)
	assert.Equal(t, item.StatusFailed, change.NewStatus)
}

func TestEngineTickRemoteArchival(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeOpenCodeSession, result: Result{
		Status:   item.StatusArchived,
		Metadata: map[string]any{"session_status": "archived"},
	}}
	it := addItem(t, store, item.Item{
		Type:     item.TypeOpenCodeSession,
		Title:    "session",
		Status:   item.StatusInProgress,
		Metadata: map[string]any{item.MetaSessionID: "ses_x"},
	})

	e, _ := newTestEngine(t, store, a)
	e.Tick(ctx)

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusArchived, got.Status)
	assert.True(t, got.Archived, "remote archival archives the local item")
}

func TestEngineTickResurfacesReactivatedSession(t *testing.T) {
	ctx := context.Background()
	store := newTestItemStore(t)

	a := &fakeAdapter{typ: item.TypeCopilotSession, result: Result{Status: item.StatusInProgress}}
	it := addItem(t, store, item.Item{
		Type:     item.TypeCopilotSession,
		Title:    "session",
		Status:   item.StatusCompleted,
		Metadata: map[string]any{item.MetaSessionID: "cop-1"},
	})
	require.NoError(t, store.SetChecked(ctx, it.ID, true))
	require.NoError(t, store.Archive(ctx, it.ID))

	e, _ := newTestEngine(t, store, a)
	e.Tick(ctx)

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusInProgress, got.Status)
	assert.False(t, got.Checked, "reactivation clears checked")
	assert.False(t, got.Archived, "reactivated agent sessions come back from the archive")
}

func TestEngineInterval(t *testing.T) {
	ctx := context.Background()

	e := NewEngine(EngineOptions{Settings: memKV{}, Logger: zerolog.Nop()})
	assert.Equal(t, time.Duration(kv.DefaultPollingInterval)*time.Second, e.interval(ctx))

	e = NewEngine(EngineOptions{
		Settings: memKV{kv.KeyPollingInterval: "5"},
		Logger:   zerolog.Nop(),
	})
	assert.Equal(t, 5*time.Second, e.interval(ctx))

	e = NewEngine(EngineOptions{
		Settings: memKV{kv.KeyPollingInterval: "not-a-number"},
		Logger:   zerolog.Nop(),
	})
	assert.Equal(t, time.Duration(kv.DefaultPollingInterval)*time.Second, e.interval(ctx))
}

func TestEngineNudge(t *testing.T) {
	e := NewEngine(EngineOptions{Settings: memKV{}, Logger: zerolog.Nop()})

	// Repeated nudges collapse into one pending wakeup and never block.
	e.Nudge()
	e.Nudge()
	e.Nudge()

	select {
	case <-e.nudge:
	default:
		t.Fatal("expected a pending nudge")
	}
	select {
	case <-e.nudge:
		t.Fatal("nudges must coalesce")
	default:
	}
}
