// Package styles provides shared lipgloss styles for CLI output.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/colonyops/inloop/internal/core/item"
)

var (
	success = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	warning = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
	failure = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e"))
	active  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))
	muted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))

	// Bold is used for table headers and emphasis.
	Bold = lipgloss.NewStyle().Bold(true)

	// Muted renders de-emphasized text like ids and timestamps.
	Muted = muted
)

// Status renders an item status with its semantic color.
func Status(s item.Status) string {
	switch s {
	case item.StatusCompleted, item.StatusApproved, item.StatusMerged:
		return success.Render(string(s))
	case item.StatusUpdated, item.StatusInputNeeded, item.StatusWaiting:
		return warning.Render(string(s))
	case item.StatusFailed:
		return failure.Render(string(s))
	case item.StatusInProgress:
		return active.Render(string(s))
	default:
		return muted.Render(string(s))
	}
}
