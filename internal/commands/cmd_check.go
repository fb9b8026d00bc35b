package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

type CheckCmd struct {
	flags *Flags

	// flags
	undo bool
}

// NewCheckCmd creates a new check command
func NewCheckCmd(flags *Flags) *CheckCmd {
	return &CheckCmd{flags: flags}
}

// Register adds the check command to the application
func (cmd *CheckCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "check",
		Usage:     "Check off an item",
		UsageText: "inloop check [--undo] <id>...",
		Description: `Marks items as seen so they leave the visible list and the attention
count. Checked items keep being reconciled; an item that comes back to
life resurfaces automatically.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "undo",
				Aliases:     []string{"u"},
				Usage:       "clear the checked flag instead",
				Destination: &cmd.undo,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *CheckCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("expected at least one item id")
	}

	for _, id := range c.Args().Slice() {
		if err := cmd.flags.Items.SetChecked(ctx, id, !cmd.undo); err != nil {
			return fmt.Errorf("check %s: %w", id, err)
		}
	}

	return nil
}
