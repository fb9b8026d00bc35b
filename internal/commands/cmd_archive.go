package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

type ArchiveCmd struct {
	flags *Flags
}

// NewArchiveCmd creates a new archive command
func NewArchiveCmd(flags *Flags) *ArchiveCmd {
	return &ArchiveCmd{flags: flags}
}

// Register adds the archive and unarchive commands to the application
func (cmd *ArchiveCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "archive",
			Usage:     "Archive items",
			UsageText: "inloop archive <id>...",
			Description: `Moves items out of the default listing. Archived agent sessions keep
being polled so reactivation is still observed; everything else stops
polling once archived.`,
			Action: cmd.runArchive,
		},
		&cli.Command{
			Name:      "unarchive",
			Usage:     "Unarchive an item",
			UsageText: "inloop unarchive <id>",
			Action:    cmd.runUnarchive,
		},
	)

	return app
}

func (cmd *ArchiveCmd) runArchive(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("expected at least one item id")
	}

	if err := cmd.flags.Items.Archive(ctx, c.Args().Slice()...); err != nil {
		return fmt.Errorf("archive items: %w", err)
	}

	fmt.Fprintf(c.Root().Writer, "Archived %d item(s)\n", c.Args().Len())
	return nil
}

func (cmd *ArchiveCmd) runUnarchive(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one item id")
	}

	if err := cmd.flags.Items.Unarchive(ctx, c.Args().First()); err != nil {
		return fmt.Errorf("unarchive item: %w", err)
	}

	return nil
}
