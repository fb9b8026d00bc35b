package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inloop/internal/core/kv"
)

type CredentialsCmd struct {
	flags *Flags
}

// NewCredentialsCmd creates a new credentials command
func NewCredentialsCmd(flags *Flags) *CredentialsCmd {
	return &CredentialsCmd{flags: flags}
}

// Register adds the credentials command to the application
func (cmd *CredentialsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "credentials",
		Usage:     "Manage service credentials",
		UsageText: "inloop credentials <set|get|rm|ls> [args]",
		Description: fmt.Sprintf(`Stores the secrets adapters use for outbound calls. Known keys:

  %s, %s, %s, %s

A missing credential is reported per item at poll time, never fatal.`,
			kv.KeySlackToken, kv.KeyGithubToken, kv.KeyOpenCodeURL, kv.KeyOpenCodePassword),
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store a credential",
				UsageText: "inloop credentials set <key> <value>",
				Action:    cmd.runSet,
			},
			{
				Name:      "get",
				Usage:     "Print a credential",
				UsageText: "inloop credentials get <key>",
				Action:    cmd.runGet,
			},
			{
				Name:      "rm",
				Usage:     "Delete a credential",
				UsageText: "inloop credentials rm <key>",
				Action:    cmd.runRm,
			},
			{
				Name:      "ls",
				Usage:     "List stored credential keys",
				UsageText: "inloop credentials ls",
				Action:    cmd.runLs,
			},
		},
	})

	return app
}

func (cmd *CredentialsCmd) runSet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("expected <key> <value>")
	}

	if err := cmd.flags.Credentials.Set(ctx, c.Args().Get(0), c.Args().Get(1)); err != nil {
		return fmt.Errorf("set credential: %w", err)
	}
	return nil
}

func (cmd *CredentialsCmd) runGet(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected <key>")
	}

	value, ok, err := cmd.flags.Credentials.Get(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("get credential: %w", err)
	}
	if !ok {
		return fmt.Errorf("credential %q is not set", c.Args().First())
	}

	fmt.Fprintln(c.Root().Writer, value)
	return nil
}

func (cmd *CredentialsCmd) runRm(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected <key>")
	}

	if err := cmd.flags.Credentials.Delete(ctx, c.Args().First()); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (cmd *CredentialsCmd) runLs(ctx context.Context, c *cli.Command) error {
	keys, err := cmd.flags.Credentials.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	for _, key := range keys {
		fmt.Fprintln(c.Root().Writer, key)
	}
	return nil
}
