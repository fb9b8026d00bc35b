package loop

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
)

func TestOpenCodeResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		c := NewOpenCodeClient(memKV{}, "", t.TempDir())
		_, err := c.FetchContext(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "opencode url not configured")
	})

	t.Run("credential url wins and carries dir hint", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte("/home/dev/project"))
		creds := memKV{
			kv.KeyOpenCodeURL:      "http://localhost:4096/" + encoded,
			kv.KeyOpenCodePassword: "s3cret",
		}
		c := NewOpenCodeClient(creds, "http://ignored:1", t.TempDir())

		base, password, dirHint, err := c.resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:4096", base)
		assert.Equal(t, "s3cret", password)
		assert.Equal(t, "/home/dev/project", dirHint)
	})

	t.Run("config base url fallback", func(t *testing.T) {
		c := NewOpenCodeClient(memKV{}, "http://localhost:4096", t.TempDir())

		base, password, dirHint, err := c.resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:4096", base)
		assert.Empty(t, password)
		assert.Empty(t, dirHint)
	})
}

func TestOpenCodeDirectories(t *testing.T) {
	storage := t.TempDir()

	writeSession := func(sub, file, dir string) {
		path := filepath.Join(storage, sub)
		require.NoError(t, os.MkdirAll(path, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(path, file),
			[]byte(fmt.Sprintf(`{"id":"x","directory":%q}`, dir)), 0o644))
	}
	writeSession("aaa", "ses_1.json", "/home/dev/alpha")
	writeSession("bbb", "ses_2.json", "/home/dev/beta")

	c := NewOpenCodeClient(memKV{}, "http://localhost:4096", storage)
	dirs := c.Directories()

	assert.ElementsMatch(t, []string{"/home/dev/alpha", "/home/dev/beta"}, dirs)
}

func TestOpenCodeDirectoriesMissingStorage(t *testing.T) {
	c := NewOpenCodeClient(memKV{}, "http://localhost:4096", "/nonexistent/path")
	assert.Nil(t, c.Directories())
}

func openCodeTestServer(t *testing.T, sessions, statuses, messages string) *OpenCodeClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		assert.Equal(t, "opencode", user)
		assert.Equal(t, "s3cret", pass)

		switch {
		case r.URL.Path == "/session":
			fmt.Fprint(w, sessions)
		case r.URL.Path == "/session/status":
			fmt.Fprint(w, statuses)
		default:
			fmt.Fprint(w, messages)
		}
	}))
	t.Cleanup(srv.Close)

	creds := memKV{kv.KeyOpenCodePassword: "s3cret"}
	return NewOpenCodeClient(creds, srv.URL, t.TempDir())
}

func TestOpenCodeAdapterPoll(t *testing.T) {
	ctx := context.Background()

	sessions := `[
		{"id":"ses_busy","title":"Refactor auth","directory":"/home/dev/p","time":{"created":1,"updated":2}},
		{"id":"ses_idle","title":"Write docs","directory":"/home/dev/p","time":{"created":1,"updated":2}},
		{"id":"ses_gone","title":"Old","directory":"/home/dev/p","time":{"created":1,"updated":2,"archived":3}}
	]`
	statuses := `{"ses_busy":{"type":"busy"}}`
	messages := `[
		{"info":{"role":"user","agent":"build"}},
		{"info":{"role":"assistant","modelID":"gpt-5","cost":0.25,"tokens":{"input":100,"output":50,"reasoning":25}}}
	]`

	client := openCodeTestServer(t, sessions, statuses, messages)
	a := NewOpenCodeAdapter(client)
	require.NoError(t, a.PrepareTick(ctx))

	t.Run("busy session is in progress", func(t *testing.T) {
		res, err := a.Poll(ctx, item.Item{
			Type:     item.TypeOpenCodeSession,
			Metadata: map[string]any{item.MetaSessionID: "ses_busy"},
		})
		require.NoError(t, err)

		assert.Equal(t, item.StatusInProgress, res.Status)
		assert.Equal(t, "busy", res.Metadata["session_status"])
		assert.Equal(t, "Refactor auth", res.Title)
		assert.Equal(t, "/home/dev/p", res.Metadata[item.MetaDirectory])
		assert.Equal(t, int64(2), res.Metadata["message_count"])
		assert.Equal(t, int64(175), res.Metadata["total_tokens"])
		assert.Equal(t, 0.25, res.Metadata["total_cost"])
		assert.Equal(t, "gpt-5", res.Metadata["model"])
		assert.Equal(t, "build", res.Metadata["agent"])
	})

	t.Run("idle session is completed", func(t *testing.T) {
		res, err := a.Poll(ctx, item.Item{
			Type:     item.TypeOpenCodeSession,
			Metadata: map[string]any{item.MetaSessionID: "ses_idle"},
		})
		require.NoError(t, err)
		assert.Equal(t, item.StatusCompleted, res.Status)
		assert.Equal(t, "unknown", res.Metadata["session_status"])
	})

	t.Run("archived session", func(t *testing.T) {
		res, err := a.Poll(ctx, item.Item{
			Type:     item.TypeOpenCodeSession,
			Metadata: map[string]any{item.MetaSessionID: "ses_gone"},
		})
		require.NoError(t, err)
		assert.Equal(t, item.StatusArchived, res.Status)
		assert.Equal(t, "archived", res.Metadata["session_status"])
	})

	t.Run("untracked session is archived", func(t *testing.T) {
		res, err := a.Poll(ctx, item.Item{
			Type:     item.TypeOpenCodeSession,
			Metadata: map[string]any{item.MetaSessionID: "ses_unknown"},
		})
		require.NoError(t, err)
		assert.Equal(t, item.StatusArchived, res.Status)
	})

	t.Run("missing session id", func(t *testing.T) {
		_, err := a.Poll(ctx, item.Item{Type: item.TypeOpenCodeSession})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing session_id")
	})
}

func TestOpenCodeAdapterPollAfterFailedPrepare(t *testing.T) {
	ctx := context.Background()

	a := NewOpenCodeAdapter(NewOpenCodeClient(memKV{}, "", t.TempDir()))
	require.Error(t, a.PrepareTick(ctx))

	_, err := a.Poll(ctx, item.Item{
		Type:     item.TypeOpenCodeSession,
		Metadata: map[string]any{item.MetaSessionID: "ses_x"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opencode status context unavailable")
}

func TestOpenCodeWebURL(t *testing.T) {
	got := OpenCodeWebURL("http://localhost:4096", "/home/dev/project")
	want := "http://localhost:4096/" + base64.StdEncoding.EncodeToString([]byte("/home/dev/project"))
	assert.Equal(t, want, got)
}
