package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/mosaic-run/meshrt/config"
	"github.com/mosaic-run/meshrt/internal/ops"
	"github.com/mosaic-run/meshrt/internal/runtime/manager"
)

const (
	ServiceName      = "meshrt"
	ServiceNamespace = "mosaic-run"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Event mesh runtime",
		Commands: []*cli.Command{
			serverCmd(),
			statusCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the event mesh runtime",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show a live dashboard of mosaic runtime status",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the configuration file",
			},
			&cli.StringSliceFlag{
				Name:  "mosaic",
				Usage: "Mosaic id to watch (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			mosaicIDs, err := parseMosaicIDs(c.StringSlice("mosaic"))
			if err != nil {
				return err
			}

			var mgr *manager.Manager
			app := fx.New(
				coreProvide(cfg),
				fx.Populate(&mgr),
				fx.Invoke(func(lc fx.Lifecycle, mgr *manager.Manager) {
					lc.Append(fx.Hook{
						OnStop: func(ctx context.Context) error {
							return mgr.StopRuntime(ctx)
						},
					})
				}),
			)

			if err := app.Start(c.Context); err != nil {
				return err
			}
			defer app.Stop(context.Background())

			return ops.New(mgr, mosaicIDs).Run(c.Context)
		},
	}
}

func parseMosaicIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("cmd: invalid --mosaic id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
