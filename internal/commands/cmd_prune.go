package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

type PruneCmd struct {
	flags *Flags

	// flags
	closed       bool
	olderThan    time.Duration
	archiveStale time.Duration
}

// NewPruneCmd creates a new prune command
func NewPruneCmd(flags *Flags) *PruneCmd {
	return &PruneCmd{flags: flags}
}

// Register adds the prune command to the application
func (cmd *PruneCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "prune",
		Usage:     "Clean up old items",
		UsageText: "inloop prune [--closed] [--older-than <duration>] [--archive-stale <duration>]",
		Description: `Deletes archived items whose archival is older than the retention window
(default 720h). --closed additionally deletes items marked closed by the
session dedup rules. --archive-stale first archives completed or failed
items that have not updated within the given window.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "closed",
				Usage:       "also delete closed items",
				Destination: &cmd.closed,
			},
			&cli.DurationFlag{
				Name:        "older-than",
				Usage:       "retention window for archived items",
				Value:       720 * time.Hour,
				Destination: &cmd.olderThan,
			},
			&cli.DurationFlag{
				Name:        "archive-stale",
				Usage:       "archive completed/failed items idle for this long first",
				Destination: &cmd.archiveStale,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *PruneCmd) run(ctx context.Context, c *cli.Command) error {
	out := c.Root().Writer

	if cmd.archiveStale > 0 {
		n, err := cmd.flags.Items.ArchiveStale(ctx, cmd.archiveStale)
		if err != nil {
			return fmt.Errorf("archive stale items: %w", err)
		}
		fmt.Fprintf(out, "Archived %d stale item(s)\n", n)
	}

	removed, err := cmd.flags.Items.RemoveStale(ctx, time.Now().Add(-cmd.olderThan))
	if err != nil {
		return fmt.Errorf("remove stale items: %w", err)
	}

	if cmd.closed {
		n, err := cmd.flags.Items.RemoveClosed(ctx)
		if err != nil {
			return fmt.Errorf("remove closed items: %w", err)
		}
		removed += n
	}

	if removed == 0 {
		fmt.Fprintln(out, "Nothing to prune")
		return nil
	}

	fmt.Fprintf(out, "Pruned %d item(s)\n", removed)
	return nil
}
