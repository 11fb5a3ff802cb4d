package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/ledgerline/recon-backend/internal/application/recon"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Poller periodically sweeps the unreconciled backlog into the queue.
// It is the fallback scheduler: explicit API triggers enqueue directly,
// the poller catches everything they miss.
type Poller struct {
	store          storage.Repository
	queue          Queue
	logger         *slog.Logger
	interval       time.Duration
	lookback       int
	priorityAmount float64
}

// NewPoller creates a poller that sweeps at the given interval.
func NewPoller(store storage.Repository, queue Queue, cfg config.WorkerConfig, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		store:          store,
		queue:          queue,
		logger:         logger,
		interval:       interval,
		lookback:       cfg.LookbackDays,
		priorityAmount: cfg.PriorityAmount,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.sweep(ctx); err != nil {
		p.logger.Error("Backlog sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.sweep(ctx); err != nil {
				p.logger.Error("Backlog sweep failed", "error", err)
			}
		}
	}
}

// sweep enqueues a job for every unreconciled transaction in the
// lookback window, high-value first then oldest, so queued work drains
// in the same order the batch worker would process it. Duplicate
// enqueues collapse inside the queue.
func (p *Poller) sweep(ctx context.Context) error {
	since := time.Now().AddDate(0, 0, -p.lookback)

	tenants, err := p.store.ListTenantsWithUnreconciled(ctx, since)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, tenantID := range tenants {
		txns, err := p.store.ListUnreconciled(ctx, tenantID, since)
		if err != nil {
			return err
		}
		recon.PrioritizeTransactions(txns, p.priorityAmount)
		for i := range txns {
			if err := p.queue.Enqueue(ctx, Job{TenantID: tenantID, TransactionID: txns[i].ID}); err != nil {
				p.logger.Warn("Enqueue failed during sweep",
					"tenant_id", tenantID, "transaction_id", txns[i].ID, "error", err)
				continue
			}
			enqueued++
		}
	}

	p.logger.Debug("Backlog sweep complete", "tenants", len(tenants), "enqueued", enqueued)
	return nil
}
