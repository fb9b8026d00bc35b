package loop

import (
	"strings"

	"github.com/colonyops/inloop/internal/core/item"
)

// ErrorClass says whether a poll failure should flip the item to failed.
type ErrorClass int

const (
	// Transient failures leave status untouched; only the error text and
	// timestamp are recorded in metadata.
	Transient ErrorClass = iota
	// Permanent failures force the item to a terminal failed status.
	Permanent
)

// Classify decides the error class from the item type and the error text.
//
// Only GitHub-backed items can fail permanently, and only on auth or
// not-found responses. Everything else (missing credentials, malformed
// metadata, absent CLI tooling, timeouts) is transient and left for the
// user or the next tick to resolve.
func Classify(t item.Type, err error) ErrorClass {
	if err == nil {
		return Transient
	}

	if t != item.TypeGithubAction && t != item.TypeGithubPR {
		return Transient
	}

	msg := err.Error()
	for _, code := range []string{"401", "403", "404"} {
		if strings.Contains(msg, code) {
			return Permanent
		}
	}

	return Transient
}
