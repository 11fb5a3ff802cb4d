package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recon-backend/internal/api"
	"github.com/ledgerline/recon-backend/internal/application/jobs"
	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/application/splits"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/logging"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func newServeCommand(configPath *string) *cobra.Command {
	var port int
	var verbose bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrEnvWithPath(*configPath)
			if port != 0 {
				cfg.API.Port = port
			}
			if verbose {
				cfg.Observability.Logging.Level = "debug"
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (overrides config)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "verbose output")

	return cmd
}

func runServe(cfg *config.Config) error {
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "api")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	worker := recon.NewWorker(store, cfg, logger)
	splitSvc := splits.NewService(store, cfg.Splits.RequireApproval, logger)
	excSvc := recon.NewExceptionService(store, logger)

	// Queue backs the async reconcile path on the API.
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()

	queue := jobs.NewMemoryQueue(func(ctx context.Context, job jobs.Job) error {
		_, err := worker.ReconcileTransaction(ctx, job.TenantID, job.TransactionID)
		return err
	}, store, cfg.Worker, logger)
	queue.Start(queueCtx)

	apiCfg := api.Config{
		Port:           cfg.API.Port,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}
	server := api.NewServer(apiCfg, store, worker, splitSvc, excSvc, queue, logger)

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
		cancelQueue()
		queue.Wait()
		close(done)
	}()

	if err := server.Start(); err != nil {
		return err
	}

	<-done
	logger.Info("server stopped")
	return nil
}
