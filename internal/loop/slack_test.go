package loop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
)

// memKV is an in-memory kv.KV for adapter tests.
type memKV map[string]string

func (m memKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}
func (m memKV) Set(_ context.Context, key, value string) error { m[key] = value; return nil }
func (m memKV) Delete(_ context.Context, key string) error     { delete(m, key); return nil }
func (m memKV) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys, nil
}

func slackTestAdapter(t *testing.T, handler http.HandlerFunc, creds kv.KV) *SlackAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := NewSlackAdapter(creds)
	a.baseURL = srv.URL
	return a
}

func TestSlackPollNoToken(t *testing.T) {
	a := NewSlackAdapter(memKV{})

	_, err := a.Poll(context.Background(), item.Item{
		Type:     item.TypeSlackThread,
		Metadata: map[string]any{"channel_id": "C1", "thread_ts": "1.2"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack token not configured")
}

func TestSlackPollNewReplies(t *testing.T) {
	a := slackTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		assert.Equal(t, "C1", r.URL.Query().Get("channel"))
		assert.Equal(t, "1717171717.000100", r.URL.Query().Get("ts"))

		fmt.Fprint(w, `{"ok":true,"messages":[
			{"type":"message","user":"U1","text":"root","ts":"1717171717.000100"},
			{"type":"message","user":"U2","text":"reply","ts":"1717171718.000200"}
		]}`)
	}, memKV{kv.KeySlackToken: "xoxb-test"})

	res, err := a.Poll(context.Background(), item.Item{
		Type:   item.TypeSlackThread,
		Status: item.StatusWaiting,
		Metadata: map[string]any{
			"channel_id":    "C1",
			"thread_ts":     "1717171717.000100",
			"message_count": 1,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, item.StatusUpdated, res.Status)
	assert.Equal(t, int64(2), res.Metadata["message_count"])
	assert.Equal(t, "1717171718.000200", res.Metadata["latest_ts"])
	assert.True(t, res.Backfilled, "a grown count must persist")
}

func TestSlackPollGrownCountPersistsWhileUpdated(t *testing.T) {
	a := slackTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"messages":[
			{"type":"message","ts":"1.1"},
			{"type":"message","ts":"1.2"},
			{"type":"message","ts":"1.3"},
			{"type":"message","ts":"1.4"},
			{"type":"message","ts":"1.5"}
		]}`)
	}, memKV{kv.KeySlackToken: "xoxb-test"})

	res, err := a.Poll(context.Background(), item.Item{
		Type:   item.TypeSlackThread,
		Status: item.StatusUpdated,
		Metadata: map[string]any{
			"channel_id":    "C1",
			"thread_ts":     "1.1",
			"message_count": 3,
		},
	})
	require.NoError(t, err)

	// Status stays updated, but the new count must still reach the store.
	assert.Equal(t, item.StatusUpdated, res.Status)
	assert.Equal(t, int64(5), res.Metadata["message_count"])
	assert.True(t, res.Backfilled)
}

func TestSlackStoredCountRefreshesThroughTick(t *testing.T) {
	ctx := context.Background()

	a := slackTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"messages":[
			{"type":"message","ts":"1.1"},
			{"type":"message","ts":"1.2"},
			{"type":"message","ts":"1.3"},
			{"type":"message","ts":"1.4"},
			{"type":"message","ts":"1.5"}
		]}`)
	}, memKV{kv.KeySlackToken: "xoxb-test"})

	store := newTestItemStore(t)
	it := addItem(t, store, item.Item{
		Type:   item.TypeSlackThread,
		Title:  "thread",
		Status: item.StatusUpdated,
		Metadata: map[string]any{
			"channel_id":    "C1",
			"thread_ts":     "1.1",
			"message_count": 3,
		},
	})

	e, _ := newTestEngine(t, store, a)
	e.Tick(ctx)

	got, err := store.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusUpdated, got.Status)
	assert.Equal(t, int64(5), got.MetaInt("message_count"))
}

func TestSlackPollUnchangedCountKeepsStatus(t *testing.T) {
	a := slackTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"messages":[{"type":"message","ts":"1.1"}]}`)
	}, memKV{kv.KeySlackToken: "xoxb-test"})

	res, err := a.Poll(context.Background(), item.Item{
		Type:   item.TypeSlackThread,
		Status: item.StatusUpdated,
		Metadata: map[string]any{
			"channel_id":    "C1",
			"thread_ts":     "1.1",
			"message_count": 1,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, item.StatusUpdated, res.Status)
}

func TestSlackPollBackfillsFromURL(t *testing.T) {
	a := slackTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "C0123ABCD", r.URL.Query().Get("channel"))
		assert.Equal(t, "1717171717.123456", r.URL.Query().Get("ts"))
		fmt.Fprint(w, `{"ok":true,"messages":[{"type":"message","ts":"1717171717.123456"}]}`)
	}, memKV{kv.KeySlackToken: "xoxb-test"})

	res, err := a.Poll(context.Background(), item.Item{
		Type:   item.TypeSlackThread,
		Status: item.StatusWaiting,
		URL:    "https://acme.slack.com/archives/C0123ABCD/p1717171717123456",
	})
	require.NoError(t, err)

	assert.True(t, res.Backfilled)
	assert.Equal(t, "C0123ABCD", res.Metadata["channel_id"])
	assert.Equal(t, "1717171717.123456", res.Metadata["thread_ts"])
}

func TestSlackPollAPIError(t *testing.T) {
	a := slackTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}, memKV{kv.KeySlackToken: "xoxb-test"})

	_, err := a.Poll(context.Background(), item.Item{
		Type:     item.TypeSlackThread,
		Metadata: map[string]any{"channel_id": "C1", "thread_ts": "1.1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}

func TestSlackPollMissingIdentity(t *testing.T) {
	a := NewSlackAdapter(memKV{kv.KeySlackToken: "xoxb-test"})

	_, err := a.Poll(context.Background(), item.Item{
		Type: item.TypeSlackThread,
		URL:  "https://example.com/not-slack",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing channel_id or thread_ts")
}
