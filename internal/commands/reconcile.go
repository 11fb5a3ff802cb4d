package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/logging"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func newReconcileCommand(configPath *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation batch and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrEnvWithPath(*configPath)
			return runReconcile(cmd, cfg, tenantID)
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to reconcile (default: all tenants with a backlog)")

	return cmd
}

func runReconcile(cmd *cobra.Command, cfg *config.Config, tenantID string) error {
	logger := logging.NewLoggerWithSystem(cfg.Observability.Logging, "reconcile")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	worker := recon.NewWorker(store, cfg, logger)
	ctx := cmd.Context()

	var results []recon.BatchResult
	if tenantID != "" {
		result, err := worker.ReconcileBatch(ctx, tenantID)
		if err != nil {
			return err
		}
		results = append(results, *result)
	} else {
		results, err = worker.ReconcileAll(ctx)
		if err != nil {
			return err
		}
	}

	printBatchResults(results)
	return nil
}

func printBatchResults(results []recon.BatchResult) {
	fmt.Println(strings.Repeat("-", 60))
	for _, r := range results {
		fmt.Printf("Tenant %s: Processed=%d Applied=%d Suggested=%d Unmatched=%d Skipped=%d Exceptions=%d\n",
			r.TenantID, r.Processed, r.Applied, r.Suggested, r.Unmatched, r.Skipped, r.Exceptions)

		if len(r.Errors) > 0 {
			fmt.Println("Errors:")
			for _, e := range r.Errors {
				fmt.Printf("  - %s: %s\n", e.TransactionID, e.Message)
			}
		}
	}
}
