package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/logging"
	"github.com/colonyops/inloop/internal/core/notify"
	"github.com/colonyops/inloop/internal/loop"
	"github.com/colonyops/inloop/internal/profiler"
	"github.com/colonyops/inloop/internal/server"
	"github.com/colonyops/inloop/pkg/executil"
)

type ServeCmd struct {
	flags *Flags

	// flags
	once      bool
	pprofPort int
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the reconciliation engine",
		UsageText: "inloop serve [--once]",
		Description: `Starts the polling loop, the local ingestion server, and the Copilot
session-state watcher, and runs until interrupted.

Use --once to run a single reconciliation tick and exit; useful from cron
or for debugging.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "once",
				Usage:       "run one tick and exit",
				Destination: &cmd.once,
			},
			&cli.IntFlag{
				Name:        "pprof-port",
				Usage:       "serve pprof on this loopback port (0 disables)",
				Destination: &cmd.pprofPort,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	var (
		flags = cmd.flags
		cfg   = flags.Config
		log   = logging.Component("serve")
		exec  = &executil.RealExecutor{}
	)

	copilotStore := loop.NewCopilotStore(cfg.Copilot.StateDir)
	opencodeClient := loop.NewOpenCodeClient(flags.Credentials, cfg.OpenCode.BaseURL, cfg.OpenCode.StorageDir)
	opencodeAdapter := loop.NewOpenCodeAdapter(opencodeClient)

	discovery := loop.NewDiscovery(
		flags.Items,
		flags.Bus,
		opencodeAdapter,
		copilotStore,
		logging.Component("discovery"),
	)

	engine := loop.NewEngine(loop.EngineOptions{
		Items:    flags.Items,
		Settings: flags.Settings,
		Adapters: []loop.Adapter{
			loop.NewSlackAdapter(flags.Credentials),
			loop.NewGithubActionsAdapter(flags.Credentials, exec),
			loop.NewGithubPRAdapter(flags.Credentials, exec),
			opencodeAdapter,
			loop.NewCopilotAdapter(copilotStore, item.TypeCopilotSession),
			loop.NewCopilotAdapter(copilotStore, item.TypeCLISession),
		},
		Discovery: discovery,
		Bus:       flags.Bus,
		Logger:    logging.Component("engine"),
		Workers:   cfg.Polling.Workers,
	})

	eventbus.NewNotificationRouter(flags.Bus).Register()

	// Routed notifications are persisted here; desktop delivery reads the
	// store instead of the bus.
	flags.Bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		n := notify.Notification{
			Level:     p.Level,
			ItemID:    p.ItemID,
			Message:   p.Message,
			CreatedAt: time.Now(),
		}
		if _, err := flags.Notifications.Save(context.Background(), n); err != nil {
			log.Warn().Err(err).Msg("failed to persist notification")
		}
	})

	if cmd.once {
		engine.Tick(ctx)
		flags.Bus.Drain()
		return nil
	}

	if cmd.pprofPort > 0 {
		profServer := profiler.New(cmd.pprofPort)
		if err := profServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start profiler: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := profServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown profiler server")
			}
		}()
		log.Info().
			Str("url", fmt.Sprintf("http://%s/debug/pprof/", profServer.Addr())).
			Msg("profiler endpoint available")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		flags.Bus.Start(gctx)
		return nil
	})

	g.Go(func() error {
		return engine.Run(gctx)
	})

	if cfg.IngestEnabled() {
		srv := server.New(flags.Items, flags.Bus, cfg.Ingest.Addr, logging.Component("ingest"))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	if cfg.CopilotWatchEnabled() {
		if w := loop.NewSessionWatcher(cfg.Copilot.StateDir, engine.Nudge, logging.Component("watcher")); w != nil {
			g.Go(func() error {
				w.Run(gctx)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
