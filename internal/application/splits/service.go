// Package splits implements the manual split workflow: draft
// allocations, submission for review, approval (which reconciles the
// transaction) and rejection back to draft. Every transition happens
// inside a storage transaction and leaves an audit row.
package splits

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/recon-backend/internal/domain/split"
	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Service owns the split workflow state machine.
type Service struct {
	store  storage.Repository
	logger *slog.Logger

	// RequireApproval gates the pending_review stage. When false,
	// submission applies the splits immediately.
	requireApproval bool

	now func() time.Time
}

// NewService creates a split workflow service.
func NewService(store storage.Repository, requireApproval bool, logger *slog.Logger) *Service {
	return &Service{
		store:           store,
		logger:          logger,
		requireApproval: requireApproval,
		now:             time.Now,
	}
}

// Replace swaps the transaction's draft allocation set. Allowed while
// the transaction is unreconciled and the splits are not past draft.
func (s *Service) Replace(ctx context.Context, tenantID, transactionID string, allocations []split.Allocation, actor string) ([]storage.TransactionSplit, error) {
	var result []storage.TransactionSplit

	err := s.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.Reconciled {
			return errs.Conflict("transaction %s is already reconciled", transactionID)
		}
		if txn.SplitStatus == storage.TxnSplitStatusPendingReview || txn.SplitStatus == storage.TxnSplitStatusApplied {
			return errs.Conflict("splits for transaction %s are %s and can no longer be edited", transactionID, txn.SplitStatus)
		}

		if err := split.ValidateAllocations(txn, allocations); err != nil {
			return err
		}
		// No FK constraints back the reference columns; verify here.
		for i, a := range allocations {
			if a.DocumentID != "" {
				if _, err := tx.GetDocument(ctx, tenantID, a.DocumentID); err != nil {
					if errs.IsNotFound(err) {
						return errs.Validationf("allocations", "allocation %d: document %s not found", i, a.DocumentID)
					}
					return err
				}
			}
			if a.LedgerEntryID != "" {
				if _, err := tx.GetLedgerEntry(ctx, tenantID, a.LedgerEntryID); err != nil {
					if errs.IsNotFound(err) {
						return errs.Validationf("allocations", "allocation %d: ledger entry %s not found", i, a.LedgerEntryID)
					}
					return err
				}
			}
		}

		now := s.now().UTC()
		rows := make([]storage.TransactionSplit, len(allocations))
		for i, a := range allocations {
			rows[i] = storage.TransactionSplit{
				ID:            uuid.New().String(),
				TenantID:      tenantID,
				TransactionID: transactionID,
				Amount:        a.Amount,
				Currency:      a.Currency,
				DocumentID:    a.DocumentID,
				LedgerEntryID: a.LedgerEntryID,
				Status:        storage.SplitStatusDraft,
				Notes:         a.Notes,
				CreatedAt:     now.Add(time.Duration(i)), // stable listing order
			}
		}

		if err := tx.ReplaceSplits(ctx, tenantID, transactionID, rows); err != nil {
			return err
		}
		if err := tx.SetTransactionSplitFields(ctx, tenantID, transactionID, true, storage.TxnSplitStatusDraft); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, tenantID, transactionID, txn.SplitStatus, storage.TxnSplitStatusDraft, actor, ""); err != nil {
			return err
		}

		result = rows
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Splits replaced",
		"tenant_id", tenantID, "transaction_id", transactionID, "count", len(result), "actor", actor)
	return result, nil
}

// Submit moves a balanced draft to pending review. With approval
// disabled the splits apply immediately.
func (s *Service) Submit(ctx context.Context, tenantID, transactionID, actor string) error {
	err := s.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.SplitStatus != storage.TxnSplitStatusDraft {
			return errs.Conflict("transaction %s has no draft splits to submit", transactionID)
		}

		rows, err := tx.ListSplits(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return errs.Validation("no split allocations to submit")
		}
		if !split.SplitsBalance(txn.Amount, rows) {
			return errs.Validation("split amounts no longer balance against the transaction amount")
		}

		if !s.requireApproval {
			return s.apply(ctx, tx, txn, rows, actor, storage.TxnSplitStatusDraft)
		}

		now := s.now().UTC()
		for i := range rows {
			rows[i].Status = storage.SplitStatusPendingReview
			rows[i].SubmittedBy = actor
			rows[i].SubmittedAt = &now
			if err := tx.UpdateSplit(ctx, &rows[i]); err != nil {
				return err
			}
		}
		if err := tx.SetTransactionSplitFields(ctx, tenantID, transactionID, true, storage.TxnSplitStatusPendingReview); err != nil {
			return err
		}
		return s.audit(ctx, tx, tenantID, transactionID,
			storage.TxnSplitStatusDraft, storage.TxnSplitStatusPendingReview, actor, "")
	})
	if err != nil {
		return err
	}

	s.logger.Info("Splits submitted", "tenant_id", tenantID, "transaction_id", transactionID, "actor", actor)
	return nil
}

// Approve applies pending splits: the balance is re-validated, every
// referenced document is posted, every referenced ledger entry is
// reconciled, and the transaction itself becomes reconciled.
func (s *Service) Approve(ctx context.Context, tenantID, transactionID, actor string) error {
	err := s.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.SplitStatus != storage.TxnSplitStatusPendingReview {
			return errs.Conflict("transaction %s has no splits pending review", transactionID)
		}

		rows, err := tx.ListSplits(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if !split.SplitsBalance(txn.Amount, rows) {
			return errs.Validation("split amounts no longer balance against the transaction amount")
		}

		return s.apply(ctx, tx, txn, rows, actor, storage.TxnSplitStatusPendingReview)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Splits approved", "tenant_id", tenantID, "transaction_id", transactionID, "actor", actor)
	return nil
}

// apply performs the terminal transition shared by Approve and the
// no-approval Submit path.
func (s *Service) apply(ctx context.Context, tx storage.Querier, txn *storage.BankTransaction, rows []storage.TransactionSplit, actor, fromStatus string) error {
	now := s.now().UTC()
	for i := range rows {
		if rows[i].Status == storage.SplitStatusVoid {
			continue
		}
		rows[i].Status = storage.SplitStatusApplied
		rows[i].ReviewedBy = actor
		rows[i].ReviewedAt = &now
		if err := tx.UpdateSplit(ctx, &rows[i]); err != nil {
			return err
		}

		if rows[i].DocumentID != "" {
			if err := tx.SetDocumentStatus(ctx, txn.TenantID, rows[i].DocumentID, storage.DocumentStatusPosted); err != nil {
				return err
			}
		}
		if rows[i].LedgerEntryID != "" {
			if err := tx.MarkLedgerEntryReconciled(ctx, txn.TenantID, rows[i].LedgerEntryID, txn.ID); err != nil {
				return err
			}
		}
	}

	if err := tx.SetTransactionSplitFields(ctx, txn.TenantID, txn.ID, true, storage.TxnSplitStatusApplied); err != nil {
		return err
	}
	if err := tx.MarkTransactionReconciled(ctx, txn); err != nil {
		return err
	}
	if _, err := tx.ResolveExceptionsForTransaction(ctx, txn.TenantID, txn.ID, actor); err != nil {
		return err
	}
	return s.audit(ctx, tx, txn.TenantID, txn.ID, fromStatus, storage.TxnSplitStatusApplied, actor, "")
}

// Reject sends pending splits back to draft. Amounts and references
// are preserved, submission metadata is cleared, and the reviewer and
// their notes are recorded on each row.
func (s *Service) Reject(ctx context.Context, tenantID, transactionID, actor, notes string) error {
	err := s.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.SplitStatus != storage.TxnSplitStatusPendingReview {
			return errs.Conflict("transaction %s has no splits pending review", transactionID)
		}

		rows, err := tx.ListSplits(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		for i := range rows {
			rows[i].Status = storage.SplitStatusDraft
			rows[i].SubmittedBy = ""
			rows[i].SubmittedAt = nil
			rows[i].ReviewedBy = actor
			rows[i].ReviewedAt = &now
			if notes != "" {
				rows[i].Notes = notes
			}
			if err := tx.UpdateSplit(ctx, &rows[i]); err != nil {
				return err
			}
		}

		if err := tx.SetTransactionSplitFields(ctx, tenantID, transactionID, true, storage.TxnSplitStatusDraft); err != nil {
			return err
		}
		return s.audit(ctx, tx, tenantID, transactionID,
			storage.TxnSplitStatusPendingReview, storage.TxnSplitStatusDraft, actor, notes)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Splits rejected", "tenant_id", tenantID, "transaction_id", transactionID, "actor", actor)
	return nil
}

// Delete removes a draft split set entirely.
func (s *Service) Delete(ctx context.Context, tenantID, transactionID, actor string) error {
	return s.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.SplitStatus != storage.TxnSplitStatusDraft {
			return errs.Conflict("only draft splits can be deleted")
		}

		if err := tx.DeleteSplits(ctx, tenantID, transactionID); err != nil {
			return err
		}
		if err := tx.SetTransactionSplitFields(ctx, tenantID, transactionID, false, storage.TxnSplitStatusNone); err != nil {
			return err
		}
		return s.audit(ctx, tx, tenantID, transactionID,
			storage.TxnSplitStatusDraft, storage.TxnSplitStatusNone, actor, "")
	})
}

// List returns the transaction's splits.
func (s *Service) List(ctx context.Context, tenantID, transactionID string) ([]storage.TransactionSplit, error) {
	return s.store.ListSplits(ctx, tenantID, transactionID)
}

// AuditTrail returns the workflow transitions for a transaction.
func (s *Service) AuditTrail(ctx context.Context, tenantID, transactionID string) ([]storage.SplitAuditEntry, error) {
	return s.store.ListSplitAudit(ctx, tenantID, transactionID)
}

func (s *Service) audit(ctx context.Context, tx storage.Querier, tenantID, transactionID, oldStatus, newStatus, actor, notes string) error {
	return tx.InsertSplitAudit(ctx, &storage.SplitAuditEntry{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: transactionID,
		OldStatus:     oldStatus,
		NewStatus:     newStatus,
		Actor:         actor,
		Notes:         notes,
		CreatedAt:     s.now().UTC(),
	})
}
