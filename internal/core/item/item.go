// Package item defines the work-item domain types and store interface.
package item

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an item does not exist in the store.
var ErrNotFound = errors.New("item not found")

// Type identifies the kind of external work an item tracks.
type Type string

// Known item types.
const (
	TypeSlackThread     Type = "slack_thread"
	TypeGithubAction    Type = "github_action"
	TypeGithubPR        Type = "github_pr"
	TypeOpenCodeSession Type = "opencode_session"
	TypeCopilotSession  Type = "copilot_session"
	TypeCLISession      Type = "cli_session"
	TypeIngestedSession Type = "ingested_session"
)

// Valid reports whether t is one of the known item types.
func (t Type) Valid() bool {
	switch t {
	case TypeSlackThread, TypeGithubAction, TypeGithubPR,
		TypeOpenCodeSession, TypeCopilotSession, TypeCLISession, TypeIngestedSession:
		return true
	}
	return false
}

// IsAgentSession reports whether the type tracks an agent session.
// Agent sessions keep being polled even when archived or in a terminal
// status, so that archival and reactivation are observed.
func (t Type) IsAgentSession() bool {
	switch t {
	case TypeOpenCodeSession, TypeCopilotSession, TypeCLISession:
		return true
	}
	return false
}

// Status is the normalized state of an item.
type Status string

// Known statuses.
const (
	StatusWaiting     Status = "waiting"
	StatusInProgress  Status = "in_progress"
	StatusInputNeeded Status = "input_needed"
	StatusUpdated     Status = "updated"
	StatusApproved    Status = "approved"
	StatusMerged      Status = "merged"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusArchived    Status = "archived"
	StatusClosed      Status = "closed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusInputNeeded, StatusUpdated,
		StatusApproved, StatusMerged, StatusCompleted, StatusFailed,
		StatusArchived, StatusClosed:
		return true
	}
	return false
}

// Terminal reports whether s is a status the poller normally stops at.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusArchived, StatusClosed:
		return true
	}
	return false
}

// Actionable reports whether s counts toward the attention badge.
func (s Status) Actionable() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusUpdated, StatusApproved,
		StatusMerged, StatusWaiting, StatusInputNeeded:
		return true
	}
	return false
}

// Metadata keys shared across adapters.
const (
	MetaLastError   = "last_error"
	MetaLastErrorAt = "last_error_at"
	MetaSessionID   = "session_id"
	MetaDirectory   = "directory"
	MetaCwd         = "cwd"
	MetaCommand     = "command"
)

// Item is a tracked unit of external work.
//
// Metadata is a type-specific JSON object. Adapters merge fields into it
// rather than replacing it, so identifying fields written once (owner/repo,
// channel/thread, session id) survive later partial updates.
type Item struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Title          string         `json:"title"`
	URL            string         `json:"url,omitempty"`
	Status         Status         `json:"status"`
	PreviousStatus Status         `json:"previous_status,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at"`
	LastCheckedAt  *time.Time     `json:"last_checked_at,omitempty"`
	LastUpdatedAt  *time.Time     `json:"last_updated_at,omitempty"`
	ArchivedAt     *time.Time     `json:"archived_at,omitempty"`
	Archived       bool           `json:"archived"`
	Checked        bool           `json:"checked"`

	// PollingIntervalOverride is reserved; the engine currently uses one
	// global interval.
	PollingIntervalOverride *int64 `json:"polling_interval_override,omitempty"`
}

// MetaString returns the string value for a metadata key, or "".
func (i *Item) MetaString(key string) string {
	if i.Metadata == nil {
		return ""
	}
	s, _ := i.Metadata[key].(string)
	return s
}

// MetaInt returns the integer value for a metadata key, or 0.
// JSON round-trips store numbers as float64, so both are accepted.
func (i *Item) MetaInt(key string) int64 {
	if i.Metadata == nil {
		return 0
	}
	switch v := i.Metadata[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// MetaBool returns the boolean value for a metadata key, or false.
func (i *Item) MetaBool(key string) bool {
	if i.Metadata == nil {
		return false
	}
	b, _ := i.Metadata[key].(bool)
	return b
}

// SetMeta sets a metadata key, initializing the map if needed.
func (i *Item) SetMeta(key string, value any) {
	if i.Metadata == nil {
		i.Metadata = make(map[string]any)
	}
	i.Metadata[key] = value
}

// MergeMetadata merges src into dst without removing existing keys, and
// returns the result. dst may be nil.
func MergeMetadata(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
