package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inloop/internal/core/eventbus"
)

type RmCmd struct {
	flags *Flags
}

// NewRmCmd creates a new rm command
func NewRmCmd(flags *Flags) *RmCmd {
	return &RmCmd{flags: flags}
}

// Register adds the rm command to the application
func (cmd *RmCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "rm",
		Usage:     "Remove items",
		UsageText: "inloop rm <id>...",
		Description: `Deletes items permanently. Discovered agent sessions with a still-live
external session will be re-discovered on the next tick; archive instead
when that is not wanted.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *RmCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("expected at least one item id")
	}

	for _, id := range c.Args().Slice() {
		if err := cmd.flags.Items.Remove(ctx, id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		cmd.flags.Bus.PublishItemRemoved(eventbus.ItemRemovedPayload{ItemID: id})
	}

	return nil
}
