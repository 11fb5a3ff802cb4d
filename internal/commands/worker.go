package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recon-backend/internal/application/jobs"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/logging"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func newWorkerCommand(configPath *string) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the background reconciliation worker",
		Long: "Polls every tenant's unreconciled backlog on an interval and " +
			"feeds it through the matching queue until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrEnvWithPath(*configPath)
			return runWorker(cfg, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "poll interval")

	return cmd
}

func runWorker(cfg *config.Config, interval time.Duration) error {
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "worker")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	worker := recon.NewWorker(store, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue := jobs.NewMemoryQueue(func(ctx context.Context, job jobs.Job) error {
		_, err := worker.ReconcileTransaction(ctx, job.TenantID, job.TransactionID)
		return err
	}, store, cfg.Worker, logger)
	queue.Start(ctx)

	poller := jobs.NewPoller(store, queue, cfg.Worker, interval, logger)

	logger.Info("worker started", "interval", interval.String())
	err = poller.Run(ctx)

	queue.Wait()
	logger.Info("worker stopped")

	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
