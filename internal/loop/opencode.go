package loop

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/kv"
)

// OpenCodeSession is one session as reported by the OpenCode server.
type OpenCodeSession struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	ParentID  string `json:"parentID"`
	Time      struct {
		Created  float64  `json:"created"`
		Updated  float64  `json:"updated"`
		Archived *float64 `json:"archived"`
	} `json:"time"`
}

// IsArchived reports whether the remote session carries an archived timestamp.
func (s OpenCodeSession) IsArchived() bool { return s.Time.Archived != nil }

// OpenCodeContext is the per-tick snapshot of every known session and its
// runtime status, fetched once and shared between discovery and polling.
type OpenCodeContext struct {
	BaseURL  string
	Password string

	// Sessions maps session id to its descriptor, across all directories.
	Sessions map[string]OpenCodeSession

	// Statuses maps session id to "idle", "busy" or "retry". Sessions the
	// server does not report are absent.
	Statuses map[string]string
}

// OpenCodeClient talks to a local OpenCode server and its on-disk session
// storage. The base URL and basic-auth password can be overridden through
// the credential store at runtime.
type OpenCodeClient struct {
	creds      kv.KV
	http       *http.Client
	baseURL    string
	storageDir string
}

// NewOpenCodeClient returns a client with config-level defaults. baseURL may
// be empty when only the credential store carries the server location.
func NewOpenCodeClient(creds kv.KV, baseURL, storageDir string) *OpenCodeClient {
	return &OpenCodeClient{
		creds:      creds,
		http:       &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		storageDir: storageDir,
	}
}

// resolve returns the effective base URL, password, and the directory hint
// embedded in a stored dashboard URL (its first path segment is the
// base64-encoded working directory).
func (c *OpenCodeClient) resolve(ctx context.Context) (base, password, dirHint string, err error) {
	base = c.baseURL

	raw, ok, err := c.creds.Get(ctx, kv.KeyOpenCodeURL)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to read opencode url: %w", err)
	}
	if ok && raw != "" {
		parsed, perr := url.Parse(raw)
		if perr != nil {
			return "", "", "", fmt.Errorf("invalid opencode url: %w", perr)
		}
		base = parsed.Scheme + "://" + parsed.Host

		if seg := strings.Trim(parsed.Path, "/"); seg != "" {
			first := strings.SplitN(seg, "/", 2)[0]
			if decoded, derr := base64.StdEncoding.DecodeString(first); derr == nil {
				dirHint = string(decoded)
			}
		}
	}

	if base == "" {
		return "", "", "", fmt.Errorf("opencode url not configured")
	}

	password, _, err = c.creds.Get(ctx, kv.KeyOpenCodePassword)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to read opencode password: %w", err)
	}

	return base, password, dirHint, nil
}

// Directories enumerates the working directories known to the local OpenCode
// storage. Each subdirectory's first session file names the directory it
// belongs to. Unreadable storage yields an empty list, not an error.
func (c *OpenCodeClient) Directories() []string {
	entries, err := os.ReadDir(c.storageDir)
	if err != nil {
		return nil
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		files, err := os.ReadDir(filepath.Join(c.storageDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if filepath.Ext(f.Name()) != ".json" {
				continue
			}
			content, err := os.ReadFile(filepath.Join(c.storageDir, entry.Name(), f.Name()))
			if err != nil {
				break
			}
			var sess struct {
				Directory string `json:"directory"`
			}
			if json.Unmarshal(content, &sess) == nil && sess.Directory != "" {
				dirs = append(dirs, sess.Directory)
			}
			break
		}
	}
	return dirs
}

// FetchContext builds the per-tick session snapshot: directories are
// enumerated from storage plus the stored dashboard URL, then sessions and
// statuses are listed per directory concurrently.
func (c *OpenCodeClient) FetchContext(ctx context.Context) (*OpenCodeContext, error) {
	base, password, dirHint, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}

	dirs := c.Directories()
	if dirHint != "" {
		found := false
		for _, d := range dirs {
			if d == dirHint {
				found = true
				break
			}
		}
		if !found {
			dirs = append(dirs, dirHint)
		}
	}

	occ := &OpenCodeContext{
		BaseURL:  base,
		Password: password,
		Sessions: make(map[string]OpenCodeSession),
		Statuses: make(map[string]string),
	}

	// No known directory: query the server's default scope once.
	queries := dirs
	if len(queries) == 0 {
		queries = []string{""}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, dir := range queries {
		g.Go(func() error {
			sessions, err := c.listSessions(gctx, base, password, dir)
			if err != nil {
				return err
			}
			statuses, err := c.sessionStatuses(gctx, base, password, dir)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			for _, s := range sessions {
				occ.Sessions[s.ID] = s
			}
			for id, st := range statuses {
				occ.Statuses[id] = st
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return occ, nil
}

func (c *OpenCodeClient) listSessions(ctx context.Context, base, password, dir string) ([]OpenCodeSession, error) {
	var sessions []OpenCodeSession
	if err := c.getJSON(ctx, base, password, "/session", dir, &sessions); err != nil {
		return nil, fmt.Errorf("opencode list sessions: %w", err)
	}
	return sessions, nil
}

func (c *OpenCodeClient) sessionStatuses(ctx context.Context, base, password, dir string) (map[string]string, error) {
	var raw map[string]struct {
		Type string `json:"type"`
	}
	if err := c.getJSON(ctx, base, password, "/session/status", dir, &raw); err != nil {
		return nil, fmt.Errorf("opencode session statuses: %w", err)
	}

	statuses := make(map[string]string, len(raw))
	for id, st := range raw {
		statuses[id] = st.Type
	}
	return statuses, nil
}

// MessageSummary aggregates the session's message log: count, assistant
// token and cost totals, and the most recent model and agent seen.
func (c *OpenCodeClient) MessageSummary(ctx context.Context, occ *OpenCodeContext, sessionID string) (map[string]any, error) {
	var messages []struct {
		Info map[string]any `json:"info"`
	}
	path := "/session/" + sessionID + "/message"
	if err := c.getJSON(ctx, occ.BaseURL, occ.Password, path, "", &messages); err != nil {
		return nil, fmt.Errorf("opencode message summary: %w", err)
	}

	var (
		count       int64
		totalTokens int64
		totalCost   float64
		model       string
		agent       string
	)

	for _, m := range messages {
		if m.Info == nil {
			continue
		}
		count++

		if agent == "" {
			if a, _ := m.Info["agent"].(string); a != "" {
				agent = a
			}
		}

		role, _ := m.Info["role"].(string)
		if role != "assistant" {
			continue
		}

		if tokens, ok := m.Info["tokens"].(map[string]any); ok {
			for _, key := range []string{"input", "output", "reasoning"} {
				if v, ok := tokens[key].(float64); ok {
					totalTokens += int64(v)
				}
			}
		}
		if cost, ok := m.Info["cost"].(float64); ok {
			totalCost += cost
		}
		if mid, _ := m.Info["modelID"].(string); mid != "" {
			model = mid
		}
	}

	return map[string]any{
		"message_count": count,
		"total_tokens":  totalTokens,
		"total_cost":    totalCost,
		"model":         model,
		"agent":         agent,
	}, nil
}

func (c *OpenCodeClient) getJSON(ctx context.Context, base, password, path, dir string, out any) error {
	u := base + path
	if dir != "" {
		u += "?directory=" + url.QueryEscape(dir)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if password != "" {
		req.SetBasicAuth("opencode", password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// OpenCodeWebURL builds the dashboard link for a working directory.
func OpenCodeWebURL(base, directory string) string {
	return base + "/" + base64.StdEncoding.EncodeToString([]byte(directory))
}

// OpenCodeAdapter polls OpenCode agent sessions against the per-tick
// context fetched in PrepareTick.
type OpenCodeAdapter struct {
	client *OpenCodeClient

	mu      sync.Mutex
	tick    *OpenCodeContext
	tickErr error
}

var (
	_ Adapter      = (*OpenCodeAdapter)(nil)
	_ TickPreparer = (*OpenCodeAdapter)(nil)
)

// NewOpenCodeAdapter returns an adapter for OpenCode session items.
func NewOpenCodeAdapter(client *OpenCodeClient) *OpenCodeAdapter {
	return &OpenCodeAdapter{client: client}
}

// Type implements Adapter.
func (a *OpenCodeAdapter) Type() item.Type { return item.TypeOpenCodeSession }

// PrepareTick fetches the session snapshot shared by all polls this tick.
func (a *OpenCodeAdapter) PrepareTick(ctx context.Context) error {
	occ, err := a.client.FetchContext(ctx)

	a.mu.Lock()
	a.tick, a.tickErr = occ, err
	a.mu.Unlock()

	return err
}

// Context returns the current tick's snapshot, shared with discovery.
func (a *OpenCodeAdapter) Context() (*OpenCodeContext, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tick, a.tickErr
}

// Poll implements Adapter. A session missing from the snapshot, or carrying
// an archived timestamp, maps to archived; busy and retry map to
// in_progress; everything else is completed.
func (a *OpenCodeAdapter) Poll(ctx context.Context, it item.Item) (Result, error) {
	sessionID := it.MetaString(item.MetaSessionID)
	if sessionID == "" {
		return Result{}, fmt.Errorf("missing session_id")
	}

	occ, err := a.Context()
	if err != nil {
		return Result{}, fmt.Errorf("opencode status context unavailable: %w", err)
	}
	if occ == nil {
		return Result{}, fmt.Errorf("opencode not configured")
	}

	sess, tracked := occ.Sessions[sessionID]
	if !tracked || sess.IsArchived() {
		return Result{
			Status:   item.StatusArchived,
			Metadata: map[string]any{"session_status": "archived"},
		}, nil
	}

	sessionStatus := occ.Statuses[sessionID]
	if sessionStatus == "" {
		sessionStatus = "unknown"
	}

	status := item.StatusCompleted
	if sessionStatus == "busy" || sessionStatus == "retry" {
		status = item.StatusInProgress
	}

	meta, err := a.client.MessageSummary(ctx, occ, sessionID)
	if err != nil {
		return Result{}, err
	}
	meta[item.MetaSessionID] = sessionID
	meta["session_status"] = sessionStatus
	if sess.Directory != "" {
		meta[item.MetaDirectory] = sess.Directory
	}

	return Result{Status: status, Metadata: meta, Title: sess.Title}, nil
}
