package loop

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/pkg/tailjson"
)

const (
	copilotTitleMax = 80

	// copilotStaleAfter demotes any event older than this to Idle. A session
	// whose log went quiet is treated as finished even if its last event
	// suggested activity.
	copilotStaleAfter = 5 * time.Minute

	// copilotTailEvents bounds how many recent events are inspected per poll.
	copilotTailEvents = 20
)

// CopilotActivity is the derived runtime state of a Copilot CLI session.
type CopilotActivity int

const (
	// ActivityIdle means no recent activity; the session looks finished.
	ActivityIdle CopilotActivity = iota
	// ActivityInProgress means the agent is working.
	ActivityInProgress
	// ActivityInputNeeded means the agent is waiting on the user.
	ActivityInputNeeded
)

// CopilotSession is the workspace descriptor of one on-disk session.
type CopilotSession struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Summary    string `yaml:"summary"`
	Cwd        string `yaml:"cwd"`
	Repository string `yaml:"repository"`
	Branch     string `yaml:"branch"`
	CreatedAt  string `yaml:"created_at"`
	UpdatedAt  string `yaml:"updated_at"`
}

// DisplayName prefers the explicit name over the summary.
func (s CopilotSession) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Summary
}

// CopilotStore reads Copilot CLI session state from disk. Each session lives
// under <stateDir>/<id>/ with a workspace.yaml descriptor and an append-only
// events.jsonl log.
type CopilotStore struct {
	stateDir string
}

// NewCopilotStore returns a store rooted at the session-state directory.
func NewCopilotStore(stateDir string) *CopilotStore {
	return &CopilotStore{stateDir: stateDir}
}

// DiscoverSessions lists every readable workspace descriptor. Unreadable or
// id-less entries are skipped.
func (s *CopilotStore) DiscoverSessions() []CopilotSession {
	entries, err := os.ReadDir(s.stateDir)
	if err != nil {
		return nil
	}

	var sessions []CopilotSession
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sess, ok := s.ReadSession(entry.Name())
		if !ok {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions
}

// ReadSession loads one workspace descriptor by directory name.
func (s *CopilotStore) ReadSession(id string) (CopilotSession, bool) {
	content, err := os.ReadFile(filepath.Join(s.stateDir, id, "workspace.yaml"))
	if err != nil {
		return CopilotSession{}, false
	}

	var sess CopilotSession
	if err := yaml.Unmarshal(content, &sess); err != nil {
		return CopilotSession{}, false
	}
	if sess.ID == "" {
		return CopilotSession{}, false
	}
	return sess, true
}

// FindByTime returns the session whose created_at is closest to target,
// within a 15 second window.
func (s *CopilotStore) FindByTime(target time.Time) (CopilotSession, bool) {
	const maxDelta = 15 * time.Second

	var (
		best      CopilotSession
		bestDelta time.Duration
		found     bool
	)

	for _, sess := range s.DiscoverSessions() {
		created, err := time.Parse(time.RFC3339, sess.CreatedAt)
		if err != nil {
			continue
		}
		delta := created.Sub(target)
		if delta < 0 {
			delta = -delta
		}
		if delta > maxDelta {
			continue
		}
		if !found || delta < bestDelta {
			best, bestDelta, found = sess, delta, true
		}
	}
	return best, found
}

// FindByCwd returns the most recently updated session for a working
// directory.
func (s *CopilotStore) FindByCwd(cwd string) (CopilotSession, bool) {
	var (
		best  CopilotSession
		found bool
	)

	for _, sess := range s.DiscoverSessions() {
		if sess.Cwd != cwd {
			continue
		}
		if !found || sess.UpdatedAt > best.UpdatedAt {
			best, found = sess, true
		}
	}
	return best, found
}

// DetectActivity derives the session's state from the tail of its event log.
// A recent task-complete tool call wins outright; otherwise the newest event
// decides. Any unreadable or empty log is Idle, never an error.
func (s *CopilotStore) DetectActivity(id string, now time.Time) CopilotActivity {
	events, err := tailjson.ReadLast(
		filepath.Join(s.stateDir, id, "events.jsonl"),
		tailjson.DefaultMaxBytes,
		copilotTailEvents,
	)
	if err != nil || len(events) == 0 {
		return ActivityIdle
	}

	for _, ev := range events {
		if eventStale(ev, now) {
			continue
		}
		if eventToolName(ev) == "report_task_complete" {
			return ActivityIdle
		}
	}

	newest := events[0]
	if eventStale(newest, now) {
		return ActivityIdle
	}

	evType, _ := newest["type"].(string)
	switch evType {
	case "tool.execution_start":
		if name := eventToolName(newest); name == "ask_user" || name == "askUser" {
			return ActivityInputNeeded
		}
		return ActivityInProgress

	case "assistant.turn_end":
		return ActivityInputNeeded

	case "assistant.turn_start", "assistant.message",
		"tool.execution_complete",
		"subagent.started", "subagent.completed",
		"session.mode_changed", "session.context_changed",
		"user.message",
		"session.start", "session.info", "session.model_change":
		return ActivityInProgress

	default:
		// Includes session.error and anything unrecognized.
		return ActivityIdle
	}
}

// FirstUserMessage scans the head of the event log for the first user
// message and returns it truncated to a title length. Empty when absent.
func (s *CopilotStore) FirstUserMessage(id string) string {
	f, err := os.Open(filepath.Join(s.stateDir, id, "events.jsonl"))
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for lines := 0; lines < 50 && scanner.Scan(); lines++ {
		var ev map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if t, _ := ev["type"].(string); t != "user.message" {
			continue
		}
		if data, ok := ev["data"].(map[string]any); ok {
			if content, _ := data["content"].(string); content != "" {
				return TruncateTitle(content)
			}
		}
	}
	return ""
}

func eventToolName(ev map[string]any) string {
	if t, _ := ev["type"].(string); t != "tool.execution_start" {
		return ""
	}
	data, ok := ev["data"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := data["toolName"].(string)
	return name
}

// eventStale reports whether the event's timestamp is older than the
// staleness window. A missing or unparseable timestamp counts as stale.
func eventStale(ev map[string]any, now time.Time) bool {
	raw, _ := ev["timestamp"].(string)
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return now.Sub(ts) > copilotStaleAfter
}

// TruncateTitle trims and bounds a title to 80 runes, appending an ellipsis
// when shortened.
func TruncateTitle(s string) string {
	trimmed := strings.TrimSpace(s)
	runes := []rune(trimmed)
	if len(runes) <= copilotTitleMax {
		return trimmed
	}
	return string(runes[:copilotTitleMax-1]) + "…"
}

// CopilotAdapter polls on-disk Copilot CLI sessions. One instance serves the
// discovered session items and another the wrapper-created cli_session
// items; both derive status the same way once a session id is linked.
type CopilotAdapter struct {
	store   *CopilotStore
	forType item.Type
}

var _ Adapter = (*CopilotAdapter)(nil)

// NewCopilotAdapter returns an adapter serving t, which must be
// copilot_session or cli_session.
func NewCopilotAdapter(store *CopilotStore, t item.Type) *CopilotAdapter {
	return &CopilotAdapter{store: store, forType: t}
}

// Type implements Adapter.
func (a *CopilotAdapter) Type() item.Type { return a.forType }

// Poll implements Adapter.
func (a *CopilotAdapter) Poll(ctx context.Context, it item.Item) (Result, error) {
	sessionID := it.MetaString(item.MetaSessionID)
	if sessionID == "" {
		// Not linked to an on-disk session yet; discovery handles linking.
		return Result{Status: it.Status}, nil
	}

	activity := a.store.DetectActivity(sessionID, time.Now())

	var status item.Status
	switch activity {
	case ActivityInProgress:
		status = item.StatusInProgress
	case ActivityInputNeeded:
		status = item.StatusInputNeeded
	default:
		status = item.StatusCompleted
	}

	meta := map[string]any{item.MetaSessionID: sessionID}

	var title string
	if sess, ok := a.store.ReadSession(sessionID); ok {
		if sess.Cwd != "" {
			meta[item.MetaCwd] = sess.Cwd
		}
		if sess.Repository != "" {
			meta["repository"] = sess.Repository
		}
		if sess.Branch != "" {
			meta["branch"] = sess.Branch
		}
		title = sess.DisplayName()
	}

	if title == "" {
		title = a.store.FirstUserMessage(sessionID)
	}
	if !untitled(it) {
		title = ""
	}

	return Result{Status: status, Metadata: meta, Title: TruncateTitle(title)}, nil
}

// untitled reports whether the item still carries a placeholder title worth
// replacing with something derived from the session itself.
func untitled(it item.Item) bool {
	return it.Title == "" || strings.HasPrefix(it.Title, "Copilot session") ||
		it.Title == string(it.Type)
}
