package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saraivavision/clinic-booking/internal/app"
	"github.com/saraivavision/clinic-booking/internal/config"
	"github.com/saraivavision/clinic-booking/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		once     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "job-worker",
		Short: "Delivers appointment confirmations and reminders",
		Long: `job-worker claims due notification jobs from Postgres and delivers them.

Run it as a long-lived process, or pass --once and trigger it from cron.
Several workers may run side by side.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load error: %w", err)
			}
			if cfg.StorageBackend != config.StoragePostgres {
				return fmt.Errorf("job-worker needs STORAGE_BACKEND=%s, the api-server sweeps in-memory jobs itself", config.StoragePostgres)
			}
			if interval > 0 {
				cfg.Worker.Interval = interval
			}
			return run(cmd.Context(), cfg, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep interval, overrides JOB_WORKER_INTERVAL")

	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load error: %w", err)
			}
			if cfg.StorageBackend != config.StoragePostgres {
				return fmt.Errorf("migrate needs STORAGE_BACKEND=%s", config.StoragePostgres)
			}
			cfg.AutoMigrate = true
			cfg.RedisEnabled = false

			logger, err := logging.NewLogger(cfg.Env)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			a.Close()
			return nil
		},
	}
}

func run(ctx context.Context, cfg config.Config, once bool) error {
	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger init error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// migrations belong to the api-server
	cfg.AutoMigrate = false

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	w := a.Worker()
	if once {
		res, err := w.Sweep(rootCtx)
		if err != nil {
			return err
		}
		logger.Info("single sweep done",
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
		)
		return nil
	}

	w.Run(rootCtx)
	return nil
}
