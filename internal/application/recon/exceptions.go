package recon

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// RaiseException inserts exc unless an open exception of the same type
// already exists for the transaction. Returns true when a new row was
// created. Safe to call from inside a WithTx callback.
func RaiseException(ctx context.Context, q storage.Querier, exc *storage.ReconciliationException) (bool, error) {
	existing, err := q.FindOpenException(ctx, exc.TenantID, exc.Type, exc.TransactionID)
	if err != nil && !errs.IsNotFound(err) {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if exc.ID == "" {
		exc.ID = uuid.New().String()
	}
	if exc.Status == "" {
		exc.Status = storage.ExceptionStatusOpen
	}
	if err := q.InsertException(ctx, exc); err != nil {
		return false, err
	}
	return true, nil
}

// ExceptionService is the review surface over the exception queue.
type ExceptionService struct {
	store  storage.Repository
	logger *slog.Logger
}

// NewExceptionService creates an ExceptionService.
func NewExceptionService(store storage.Repository, logger *slog.Logger) *ExceptionService {
	return &ExceptionService{store: store, logger: logger}
}

// Raise opens an exception, deduplicating against open exceptions of
// the same type on the same transaction.
func (s *ExceptionService) Raise(ctx context.Context, exc *storage.ReconciliationException) (bool, error) {
	created, err := RaiseException(ctx, s.store, exc)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info("Exception raised",
			"tenant_id", exc.TenantID,
			"type", exc.Type,
			"severity", exc.Severity,
			"transaction_id", exc.TransactionID,
		)
	}
	return created, nil
}

// Resolve closes a single open exception.
func (s *ExceptionService) Resolve(ctx context.Context, tenantID, id, resolvedBy string) error {
	if err := s.store.ResolveException(ctx, tenantID, id, resolvedBy); err != nil {
		return err
	}
	s.logger.Info("Exception resolved", "tenant_id", tenantID, "exception_id", id, "resolved_by", resolvedBy)
	return nil
}

// List returns exceptions for a tenant, optionally filtered by status.
func (s *ExceptionService) List(ctx context.Context, tenantID, status string) ([]storage.ReconciliationException, error) {
	return s.store.ListExceptions(ctx, tenantID, status)
}

// Get returns a single exception.
func (s *ExceptionService) Get(ctx context.Context, tenantID, id string) (*storage.ReconciliationException, error) {
	return s.store.GetException(ctx, tenantID, id)
}
