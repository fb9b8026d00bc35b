// Package kv defines the key/value interface backing the credential and
// setting tables.
package kv

import "context"

// Credential keys looked up by source adapters. Absence is a normal,
// reportable condition, never a panic.
const (
	KeySlackToken       = "slack_token"
	KeyGithubToken      = "github_token"
	KeyOpenCodeURL      = "opencode_url"
	KeyOpenCodePassword = "opencode_password"
)

// Setting keys consumed by the engine.
const (
	// KeyPollingInterval holds the tick interval in seconds. Read fresh at
	// the start of every tick so changes take effect on the next loop.
	KeyPollingInterval = "polling_interval"
)

// DefaultPollingInterval is used when no setting is stored or the stored
// value does not parse.
const DefaultPollingInterval = 30

// KV is a small string key/value table.
type KV interface {
	// Get returns the value for key, or ("", false, nil) when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
