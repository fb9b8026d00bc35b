package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/styles"
	"github.com/colonyops/inloop/pkg/iojson"
)

type LsCmd struct {
	flags *Flags

	// flags
	jsonOutput bool
	archived   bool
	all        bool
}

// NewLsCmd creates a new ls command
func NewLsCmd(flags *Flags) *LsCmd {
	return &LsCmd{flags: flags}
}

// Register adds the ls command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "ls",
		Usage:     "List tracked items",
		UsageText: "inloop ls [--archived|--all] [--json]",
		Description: `Displays tracked items with their type, status, and last check time.

By default only visible items are shown: unarchived and not yet checked
off. The footer reports how many items currently need attention.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
			&cli.BoolFlag{
				Name:        "archived",
				Usage:       "show archived items only",
				Destination: &cmd.archived,
			},
			&cli.BoolFlag{
				Name:        "all",
				Aliases:     []string{"a"},
				Usage:       "show every item, archived included",
				Destination: &cmd.all,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	filter := item.ListVisible
	switch {
	case cmd.all:
		filter = item.ListAll
	case cmd.archived:
		filter = item.ListArchived
	}

	items, err := cmd.flags.Items.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		for i := range items {
			if err := iojson.WriteLine(out, items[i]); err != nil {
				return fmt.Errorf("encode item: %w", err)
			}
		}
		return nil
	}

	if len(items) == 0 {
		fmt.Fprintln(os.Stderr, "No items found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tTITLE\tLAST CHECK")

	for i := range items {
		it := items[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			styles.Muted.Render(shortID(it.ID)),
			it.Type,
			styles.Status(it.Status),
			truncate(it.Title, 60),
			lastChecked(it.LastCheckedAt),
		)
	}
	_ = w.Flush()

	count, err := cmd.flags.Items.CountActionable(ctx)
	if err != nil {
		return fmt.Errorf("count actionable: %w", err)
	}
	if count > 0 {
		fmt.Fprintf(out, "\n%s\n", styles.Bold.Render(fmt.Sprintf("%d item(s) need attention", count)))
	}

	return nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func lastChecked(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("15:04:05")
}
