package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/logging"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func newAnomaliesCommand(configPath *string) *cobra.Command {
	var tenantID string
	var windowDays int

	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Scan a tenant's transactions for anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return fmt.Errorf("--tenant is required")
			}
			cfg := config.LoadOrEnvWithPath(*configPath)
			if windowDays > 0 {
				cfg.Worker.LookbackDays = windowDays
			}
			return runAnomalies(cmd, cfg, tenantID)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to scan")
	cmd.Flags().IntVar(&windowDays, "window", 0, "scan window in days (default: worker lookback)")

	return cmd
}

func runAnomalies(cmd *cobra.Command, cfg *config.Config, tenantID string) error {
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "anomalies")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	worker := recon.NewWorker(store, cfg, logger)

	raised, err := worker.RunAnomalyScan(cmd.Context(), tenantID)
	if err != nil {
		return err
	}

	fmt.Printf("Anomaly scan complete: %d new exception(s) raised\n", raised)
	return nil
}
