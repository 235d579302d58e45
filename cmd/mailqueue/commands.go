package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kursadbilgin/mailqueue/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailqueue",
		Short:         "Durable outbound email queue with bounded retries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newMigrateCommand(),
		newProcessOnceCommand(),
		newStatsCommand(),
	)

	return root
}

func newServeCommand() *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the queue poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				if !skipMigrate {
					if err := app.migrate(); err != nil {
						return err
					}
				}

				svc, err := app.queueService()
				if err != nil {
					return err
				}
				dispatcher, err := app.dispatcher()
				if err != nil {
					return err
				}
				poller, err := service.NewPoller(dispatcher, app.cfg.PollInterval, app.logger.Named("poller"))
				if err != nil {
					return err
				}
				server, err := app.httpServer(svc)
				if err != nil {
					return err
				}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					app.logger.Info("mailqueue api started", zap.String("addr", app.listenAddr()))
					return server.Listen(app.listenAddr())
				})
				g.Go(func() error {
					<-gctx.Done()
					return server.ShutdownWithTimeout(shutdownTimeout)
				})
				g.Go(func() error {
					return poller.Start(gctx)
				})

				return g.Wait()
			})
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not apply database migrations on startup")
	return cmd
}

func newWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the queue poller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				dispatcher, err := app.dispatcher()
				if err != nil {
					return err
				}
				poller, err := service.NewPoller(dispatcher, app.cfg.PollInterval, app.logger.Named("poller"))
				if err != nil {
					return err
				}
				return poller.Start(ctx)
			})
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				return app.migrate()
			})
		},
	}
}

func newProcessOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process-once",
		Short: "Run a single poll cycle, for cron-triggered deployments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				dispatcher, err := app.dispatcher()
				if err != nil {
					return err
				}
				report := dispatcher.ProcessQueue(ctx)
				return writeJSON(cmd, report)
			})
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print delivery statistics as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), func(ctx context.Context, app *application) error {
				svc, err := app.queueService()
				if err != nil {
					return err
				}
				stats, err := svc.Stats(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd, stats)
			})
		},
	}
}

func withApplication(ctx context.Context, run func(ctx context.Context, app *application) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	if err := run(ctx, app); err != nil {
		app.logger.Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
