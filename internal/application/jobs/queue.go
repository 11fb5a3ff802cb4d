// Package jobs schedules per-transaction reconciliation work. The
// in-memory queue gives the API an asynchronous trigger path; the
// poller keeps the backlog drained when nothing enqueues explicitly.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Job identifies one unit of reconciliation work. The (tenant,
// transaction) pair is the dedupe key: a job already queued or running
// absorbs duplicate enqueues.
type Job struct {
	TenantID      string
	TransactionID string
}

// Handler processes one job. A returned error triggers a retry until
// the attempt budget runs out.
type Handler func(ctx context.Context, job Job) error

// Queue accepts reconciliation jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// MemoryQueue is a bounded in-process queue with a worker pool,
// per-job retries with exponential backoff, a global rate limit and a
// dead-letter table for exhausted jobs.
type MemoryQueue struct {
	handler Handler
	store   storage.Repository
	logger  *slog.Logger

	jobs    chan Job
	limiter *rate.Limiter

	workers     int
	maxAttempts int
	backoffBase time.Duration

	mu       sync.Mutex
	inFlight map[Job]struct{}

	wg sync.WaitGroup
}

const defaultQueueDepth = 1024

// NewMemoryQueue creates a queue sized from the worker config. Call
// Start before enqueueing.
func NewMemoryQueue(handler Handler, store storage.Repository, cfg config.WorkerConfig, logger *slog.Logger) *MemoryQueue {
	return &MemoryQueue{
		handler:     handler,
		store:       store,
		logger:      logger,
		jobs:        make(chan Job, defaultQueueDepth),
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		workers:     cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: 2 * time.Second,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// Wait blocks until they have drained.
func (q *MemoryQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.run(ctx)
		}()
	}
}

// Wait blocks until all workers have stopped.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

// Enqueue queues a job unless the same (tenant, transaction) pair is
// already queued or running.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	if _, dup := q.inFlightSet()[job]; dup {
		q.mu.Unlock()
		return nil
	}
	q.inFlightSet()[job] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		q.release(job)
		return ctx.Err()
	default:
		q.release(job)
		return errs.Conflict("reconciliation queue is full")
	}
}

func (q *MemoryQueue) inFlightSet() map[Job]struct{} {
	if q.inFlight == nil {
		q.inFlight = make(map[Job]struct{})
	}
	return q.inFlight
}

func (q *MemoryQueue) release(job Job) {
	q.mu.Lock()
	delete(q.inFlightSet(), job)
	q.mu.Unlock()
}

func (q *MemoryQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if err := q.limiter.Wait(ctx); err != nil {
				q.release(job)
				return
			}
			q.process(ctx, job)
			q.release(job)
		}
	}
}

// process runs the handler with retries. Exhausted jobs land in the
// dead-letter table for manual triage.
func (q *MemoryQueue) process(ctx context.Context, job Job) {
	var lastErr error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		lastErr = q.handler(ctx, job)
		if lastErr == nil {
			return
		}

		q.logger.Warn("Job attempt failed",
			"tenant_id", job.TenantID,
			"transaction_id", job.TransactionID,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt == q.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoffBase << (attempt - 1)):
		}
	}

	q.logger.Error("Job exhausted retries, dead-lettering",
		"tenant_id", job.TenantID,
		"transaction_id", job.TransactionID,
		"attempts", q.maxAttempts,
		"error", lastErr,
	)
	if err := q.store.InsertDeadLetterJob(ctx, &storage.DeadLetterJob{
		ID:            uuid.New().String(),
		TenantID:      job.TenantID,
		TransactionID: job.TransactionID,
		Attempts:      q.maxAttempts,
		LastError:     lastErr.Error(),
	}); err != nil {
		q.logger.Error("Failed to record dead letter job", "error", err)
	}
}
