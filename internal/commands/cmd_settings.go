package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inloop/internal/core/kv"
)

type SettingsCmd struct {
	flags *Flags
}

// NewSettingsCmd creates a new settings command
func NewSettingsCmd(flags *Flags) *SettingsCmd {
	return &SettingsCmd{flags: flags}
}

// Register adds the settings command to the application
func (cmd *SettingsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "settings",
		Usage:     "Manage runtime settings",
		UsageText: "inloop settings <set|get> [args]",
		Description: `Runtime settings live in the database so a running engine picks changes
up without a restart. The polling_interval value (seconds) is re-read at
the start of every tick.`,
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a setting",
				UsageText: "inloop settings set <key> <value>",
				Action:    cmd.runSet,
			},
			{
				Name:      "get",
				Usage:     "Print a setting",
				UsageText: "inloop settings get <key>",
				Action:    cmd.runGet,
			},
		},
	})

	return app
}

func (cmd *SettingsCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("expected <key> <value>")
	}
	key, value := c.Args().Get(0), c.Args().Get(1)

	if key == kv.KeyPollingInterval {
		if n, err := strconv.Atoi(value); err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive number of seconds", kv.KeyPollingInterval)
		}
	}

	if err := cmd.flags.Settings.Set(ctx, key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func (cmd *SettingsCmd) runGet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected <key>")
	}

	value, ok, err := cmd.flags.Settings.Get(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("get setting: %w", err)
	}
	if !ok {
		return fmt.Errorf("setting %q is not set", c.Args().First())
	}

	fmt.Fprintln(c.Root().Writer, value)
	return nil
}
