package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/loop"
)

type AddCmd struct {
	flags *Flags

	// flags
	title string
}

// NewAddCmd creates a new add command
func NewAddCmd(flags *Flags) *AddCmd {
	return &AddCmd{flags: flags}
}

// Register adds the add command to the application
func (cmd *AddCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "add",
		Usage:     "Track a URL",
		UsageText: "inloop add [--title <title>] <url>",
		Description: `Recognizes Slack thread permalinks, GitHub Actions run URLs, and GitHub
pull request URLs, and starts tracking them. The item type and identifying
metadata are derived from the URL; polling picks the item up on the next
tick.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "title",
				Aliases:     []string{"t"},
				Usage:       "custom title instead of the derived one",
				Destination: &cmd.title,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *AddCmd) run(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one URL argument")
	}
	url := c.Args().First()

	parsed, err := loop.ParseURL(url)
	if err != nil {
		return err
	}

	title := cmd.title
	if title == "" {
		title = parsed.Title
	}

	it := item.Item{
		ID:        uuid.NewString(),
		Type:      parsed.Type,
		Title:     title,
		URL:       url,
		Status:    item.StatusWaiting,
		Metadata:  parsed.Metadata,
		CreatedAt: time.Now(),
	}

	if err := cmd.flags.Items.Add(ctx, it); err != nil {
		return fmt.Errorf("add item: %w", err)
	}
	cmd.flags.Bus.PublishItemCreated(eventbus.ItemCreatedPayload{Item: &it})

	fmt.Fprintf(c.Root().Writer, "Tracking %s (%s)\n", title, it.ID)
	return nil
}
