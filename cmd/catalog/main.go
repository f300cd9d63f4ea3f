package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	ucli "github.com/urfave/cli/v2"

	catalogcli "github.com/odyssey-erp/catalog-sync/cmd/catalog/cli"
	"github.com/odyssey-erp/catalog-sync/internal/app"
	jobmetrics "github.com/odyssey-erp/catalog-sync/internal/jobs"
	"github.com/odyssey-erp/catalog-sync/internal/platform/db"
	"github.com/odyssey-erp/catalog-sync/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping catalog command")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := newApp(cfg, logger).RunContext(ctx, os.Args); err != nil {
		logger.Error("catalog", slog.Any("error", err))
		os.Exit(1)
	}
}

func newApp(cfg *app.Config, logger *slog.Logger) *ucli.App {
	jsonFlag := &ucli.BoolFlag{Name: "json", Usage: "print machine-readable output"}

	return &ucli.App{
		Name:  "catalog",
		Usage: "reconcile the product catalog against the CSV file and the remote API",
		Commands: []*ucli.Command{
			{
				Name:    "import",
				Aliases: []string{"import:csv-products"},
				Usage:   "import products from the CSV file",
				Flags: []ucli.Flag{
					&ucli.StringFlag{Name: "path", Value: cfg.CSVPath, Usage: "CSV file to import"},
					&ucli.BoolFlag{Name: "inline", Usage: "reconcile in this process instead of the worker queue"},
					&ucli.IntFlag{Name: "workers", Value: cfg.ImportWorkers, Usage: "concurrent chunks for --inline"},
					jsonFlag,
				},
				Action: func(c *ucli.Context) error {
					return withServices(c.Context, cfg, logger, func(services *app.Services) error {
						var enqueuer catalogcli.ChunkEnqueuer
						if !c.Bool("inline") {
							client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
							if err != nil {
								return err
							}
							defer client.Close()
							enqueuer = client
						}
						cmd, err := catalogcli.NewImportCLI(services.Reconciler, enqueuer)
						if err != nil {
							return err
						}
						return exitCode(cmd.ImportCommand(c.Context, catalogcli.ImportOptions{
							Path:       c.String("path"),
							Inline:     c.Bool("inline"),
							Workers:    c.Int("workers"),
							JSONOutput: c.Bool("json"),
							Stdout:     c.App.Writer,
							Stderr:     c.App.ErrWriter,
						}))
					})
				},
			},
			{
				Name:    "sync",
				Aliases: []string{"products:sync"},
				Usage:   "synchronize products from the remote API",
				Flags:   []ucli.Flag{jsonFlag},
				Action: func(c *ucli.Context) error {
					return withServices(c.Context, cfg, logger, func(services *app.Services) error {
						cmd, err := catalogcli.NewSyncCLI(services.Reconciler, services.Fetcher)
						if err != nil {
							return err
						}
						return exitCode(cmd.SyncCommand(c.Context, catalogcli.SyncOptions{
							JSONOutput: c.Bool("json"),
							Stdout:     c.App.Writer,
							Stderr:     c.App.ErrWriter,
						}))
					})
				},
			},
			{
				Name:  "jobs",
				Usage: "inspect and trigger background jobs",
				Subcommands: []*ucli.Command{
					{
						Name:  "stats",
						Usage: "print queue depth",
						Flags: []ucli.Flag{
							jsonFlag,
							&ucli.IntFlag{Name: "scheduled", Usage: "also list this many scheduled tasks"},
						},
						Action: func(c *ucli.Context) error {
							cmd, err := catalogcli.NewJobsCLI(cfg.RedisAddr)
							if err != nil {
								return err
							}
							defer cmd.Close()
							return exitCode(cmd.StatsCommand(c.Context, catalogcli.StatsOptions{
								JSONOutput: c.Bool("json"),
								Scheduled:  c.Int("scheduled"),
								Stdout:     c.App.Writer,
								Stderr:     c.App.ErrWriter,
							}))
						},
					},
					{
						Name:      "trigger",
						Usage:     "enqueue a job by name",
						ArgsUsage: "<sync|" + jobs.TaskProductsSync + ">",
						Action: func(c *ucli.Context) error {
							if c.NArg() != 1 {
								return ucli.Exit("jobs trigger: expected one job name", 2)
							}
							cmd, err := catalogcli.NewJobsCLI(cfg.RedisAddr)
							if err != nil {
								return err
							}
							defer cmd.Close()
							return exitCode(cmd.TriggerCommand(c.Context, c.Args().First(), c.App.Writer, c.App.ErrWriter))
						},
					},
				},
			},
			{
				Name:  "db:init",
				Usage: "create the products and variations tables when missing",
				Action: func(c *ucli.Context) error {
					pool, err := db.New(c.Context, cfg.PGDSN, 1)
					if err != nil {
						return err
					}
					defer pool.Close()
					if err := db.EnsureSchema(c.Context, pool); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "Schema ready.")
					return nil
				},
			},
		},
	}
}

func withServices(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(*app.Services) error) error {
	services, err := app.NewServices(ctx, cfg, logger, jobmetrics.NewMetrics(nil))
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()
	return fn(services)
}

func exitCode(code int) error {
	if code == 0 {
		return nil
	}
	return ucli.Exit("", code)
}
