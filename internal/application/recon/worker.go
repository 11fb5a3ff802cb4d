package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-backend/internal/domain/anomaly"
	"github.com/ledgerline/recon-backend/internal/domain/matching"
	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/config"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Outcome of reconciling a single transaction.
const (
	OutcomeApplied   = "applied"
	OutcomeSuggested = "suggested"
	OutcomeUnmatched = "unmatched"
	OutcomeNoop      = "noop"
	OutcomeSkipped   = "skipped"
)

// TransactionResult reports what happened to one transaction.
type TransactionResult struct {
	TransactionID string         `json:"transaction_id"`
	Outcome       string         `json:"outcome"`
	Match         *matching.Match `json:"match,omitempty"`
}

// TxnError pairs a failed transaction with its error so one bad row
// never aborts the batch.
type TxnError struct {
	TransactionID string `json:"transaction_id"`
	Err           error  `json:"-"`
	Message       string `json:"error"`
}

// BatchResult summarizes a tenant batch run.
type BatchResult struct {
	TenantID   string     `json:"tenant_id"`
	Processed  int        `json:"processed"`
	Applied    int        `json:"applied"`
	Suggested  int        `json:"suggested"`
	Unmatched  int        `json:"unmatched"`
	Skipped    int        `json:"skipped"`
	Exceptions int        `json:"exceptions"`
	Errors     []TxnError `json:"errors,omitempty"`
}

// Worker drives batch reconciliation: it walks unreconciled
// transactions, applies high-confidence exact matches, records
// suggestions for everything else, and raises exceptions for
// transactions that stay unmatched.
type Worker struct {
	store    storage.Repository
	engine   *matching.Engine
	detector *anomaly.Detector
	logger   *slog.Logger
	cfg      config.WorkerConfig

	autoApplyScore      float64
	autoApplyConfidence float64

	now func() time.Time
}

// NewWorker creates a Worker with production thresholds from cfg.
func NewWorker(store storage.Repository, cfg *config.Config, logger *slog.Logger) *Worker {
	matchCfg := matching.DefaultConfig()
	if cfg.Matching.MaxCandidates > 0 {
		matchCfg.MaxResults = cfg.Matching.MaxCandidates
	}

	return &Worker{
		store:               store,
		engine:              matching.NewEngine(matchCfg),
		detector:            anomaly.NewDetector(anomaly.DefaultConfig()),
		logger:              logger,
		cfg:                 cfg.Worker,
		autoApplyScore:      cfg.Matching.AutoApplyScore,
		autoApplyConfidence: cfg.Matching.AutoApplyConfidence,
		now:                 time.Now,
	}
}

// ReconcileAll runs a batch for every tenant that has unreconciled
// transactions inside the lookback window.
func (w *Worker) ReconcileAll(ctx context.Context) ([]BatchResult, error) {
	since := w.now().AddDate(0, 0, -w.cfg.LookbackDays)
	tenants, err := w.store.ListTenantsWithUnreconciled(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tenants")
	}

	results := make([]BatchResult, 0, len(tenants))
	for _, tenantID := range tenants {
		result, err := w.ReconcileBatch(ctx, tenantID)
		if err != nil {
			return results, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// ReconcileBatch reconciles all unreconciled transactions for one
// tenant. High-value transactions go first, then oldest-first. A
// failure on one transaction is recorded and the batch continues.
func (w *Worker) ReconcileBatch(ctx context.Context, tenantID string) (*BatchResult, error) {
	since := w.now().AddDate(0, 0, -w.cfg.LookbackDays)

	txns, err := w.store.ListUnreconciled(ctx, tenantID, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unreconciled transactions")
	}

	w.prioritize(txns)

	result := &BatchResult{TenantID: tenantID}
	var unmatched []storage.BankTransaction
	for i := range txns {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		txnResult, err := w.ReconcileTransaction(ctx, tenantID, txns[i].ID)
		if err != nil {
			w.logger.Error("Transaction reconciliation failed",
				"tenant_id", tenantID, "transaction_id", txns[i].ID, "error", err)
			result.Errors = append(result.Errors, TxnError{
				TransactionID: txns[i].ID,
				Err:           err,
				Message:       err.Error(),
			})
			continue
		}

		result.Processed++
		switch txnResult.Outcome {
		case OutcomeApplied:
			result.Applied++
		case OutcomeSuggested:
			result.Suggested++
		case OutcomeUnmatched:
			result.Unmatched++
			unmatched = append(unmatched, txns[i])
		case OutcomeSkipped:
			result.Skipped++
		}
	}

	raised, err := w.raiseUnmatchedExceptions(ctx, tenantID, unmatched)
	if err != nil {
		return result, err
	}
	result.Exceptions = raised

	w.logger.Info("Batch reconciliation complete",
		"tenant_id", tenantID,
		"processed", result.Processed,
		"applied", result.Applied,
		"suggested", result.Suggested,
		"unmatched", result.Unmatched,
		"errors", len(result.Errors),
	)
	return result, nil
}

func (w *Worker) prioritize(txns []storage.BankTransaction) {
	PrioritizeTransactions(txns, w.cfg.PriorityAmount)
}

// PrioritizeTransactions orders transactions for processing: amounts
// above the priority threshold first, oldest first within each band.
// Every consumer of the unreconciled backlog uses this ordering.
func PrioritizeTransactions(txns []storage.BankTransaction, priorityAmount float64) {
	threshold := decimal.NewFromFloat(priorityAmount)
	sort.SliceStable(txns, func(i, j int) bool {
		hi := txns[i].Amount.Abs().GreaterThan(threshold)
		hj := txns[j].Amount.Abs().GreaterThan(threshold)
		if hi != hj {
			return hi
		}
		return txns[i].Date.Before(txns[j].Date)
	})
}

// ReconcileTransaction runs matching for one transaction and persists
// the decision atomically. Re-running on an already reconciled
// transaction is a no-op.
func (w *Worker) ReconcileTransaction(ctx context.Context, tenantID, transactionID string) (*TransactionResult, error) {
	result := &TransactionResult{TransactionID: transactionID}

	err := w.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.Reconciled {
			result.Outcome = OutcomeNoop
			return nil
		}
		// Split transactions reconcile through split application.
		if txn.IsSplit {
			result.Outcome = OutcomeSkipped
			return nil
		}

		matches, err := w.findMatches(ctx, tx, txn)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			result.Outcome = OutcomeUnmatched
			return nil
		}

		best := matches[0]
		result.Match = &best

		if w.shouldAutoApply(best) {
			if err := applyMatch(ctx, tx, txn, best,
				storage.MatchEventAutoMatch, storage.ReasonHighConfidenceAutoMatch); err != nil {
				return err
			}
			result.Outcome = OutcomeApplied
			return nil
		}

		if err := w.recordSuggestion(ctx, tx, txn, best); err != nil {
			return err
		}
		result.Outcome = OutcomeSuggested
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Debug("Transaction reconciled",
		"tenant_id", tenantID, "transaction_id", transactionID, "outcome", result.Outcome)
	return result, nil
}

// PreviewMatches computes the ranked candidate list for a transaction
// without persisting anything.
func (w *Worker) PreviewMatches(ctx context.Context, tenantID, transactionID string) ([]matching.Match, error) {
	txn, err := w.store.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return nil, err
	}
	return w.findMatches(ctx, w.store, txn)
}

// findMatches loads candidates around the transaction date and runs
// the matching engine.
func (w *Worker) findMatches(ctx context.Context, q storage.Querier, txn *storage.BankTransaction) ([]matching.Match, error) {
	window := matching.DefaultConfig().FuzzyWindowDays
	from := txn.Date.AddDate(0, 0, -window)
	to := txn.Date.AddDate(0, 0, window)

	entries, err := q.ListOpenLedgerEntries(ctx, txn.TenantID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load ledger candidates")
	}
	docs, err := q.ListClassifiedDocuments(ctx, txn.TenantID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load document candidates")
	}

	return w.engine.FindMatches(txn, entries, docs), nil
}

func (w *Worker) shouldAutoApply(m matching.Match) bool {
	return m.Type == matching.MatchExact &&
		m.Score >= w.autoApplyScore &&
		m.Confidence >= w.autoApplyConfidence
}

// applyMatch records the match, marks both sides reconciled and closes
// any open exceptions on the transaction. The caller provides the
// transaction boundary.
func applyMatch(ctx context.Context, q storage.Querier, txn *storage.BankTransaction, m matching.Match, eventType, reason string) error {
	count, err := q.CountMatchesForTransaction(ctx, txn.TenantID, txn.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return errs.Conflict("transaction %s already has an applied match", txn.ID)
	}

	signals, err := json.Marshal(m.Signals)
	if err != nil {
		return errors.Wrap(err, "failed to encode signals")
	}

	if err := q.InsertMatch(ctx, &storage.ReconciliationMatch{
		ID:            uuid.New().String(),
		TenantID:      txn.TenantID,
		TransactionID: txn.ID,
		LedgerEntryID: m.LedgerEntryID,
		DocumentID:    m.DocumentID,
		Score:         m.Score,
		Confidence:    m.Confidence,
		SignalsJSON:   string(signals),
	}); err != nil {
		return err
	}

	switch m.Kind {
	case matching.CandidateLedgerEntry:
		if err := q.MarkLedgerEntryReconciled(ctx, txn.TenantID, m.LedgerEntryID, txn.ID); err != nil {
			return err
		}
	case matching.CandidateDocument:
		if err := q.SetDocumentStatus(ctx, txn.TenantID, m.DocumentID, storage.DocumentStatusPosted); err != nil {
			return err
		}
	}

	txn.MatchedLedgerEntryID = m.LedgerEntryID
	txn.MatchedDocumentID = m.DocumentID
	if err := q.MarkTransactionReconciled(ctx, txn); err != nil {
		return err
	}

	if err := q.InsertMatchEvent(ctx, &storage.MatchEvent{
		ID:            uuid.New().String(),
		TenantID:      txn.TenantID,
		TransactionID: txn.ID,
		EventType:     eventType,
		Reason:        reason,
		SignalsJSON:   string(signals),
	}); err != nil {
		return err
	}

	if _, err := q.ResolveExceptionsForTransaction(ctx, txn.TenantID, txn.ID, "system"); err != nil {
		return err
	}
	return nil
}

// recordSuggestion annotates the transaction with its best candidate
// and logs a suggestion event, without reconciling anything.
func (w *Worker) recordSuggestion(ctx context.Context, q storage.Querier, txn *storage.BankTransaction, m matching.Match) error {
	suggestion, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode suggestion")
	}
	if err := q.SetSuggestedMatch(ctx, txn.TenantID, txn.ID, string(suggestion)); err != nil {
		return err
	}

	signals, err := json.Marshal(m.Signals)
	if err != nil {
		return errors.Wrap(err, "failed to encode signals")
	}
	return q.InsertMatchEvent(ctx, &storage.MatchEvent{
		ID:            uuid.New().String(),
		TenantID:      txn.TenantID,
		TransactionID: txn.ID,
		EventType:     storage.MatchEventSuggestion,
		Reason:        storage.ReasonBelowAutoThreshold,
		SignalsJSON:   string(signals),
	})
}

// ApplyMatch applies a (typically reviewer-chosen) match to an
// unreconciled transaction.
func (w *Worker) ApplyMatch(ctx context.Context, tenantID, transactionID string, m matching.Match) error {
	return w.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.Reconciled {
			return errs.Conflict("transaction %s is already reconciled", transactionID)
		}
		return applyMatch(ctx, tx, txn, m, storage.MatchEventManualMatch, storage.ReasonReviewerAccepted)
	})
}

// RejectSuggestion clears the stored suggestion and records a
// rejection event so the decision trail stays complete.
func (w *Worker) RejectSuggestion(ctx context.Context, tenantID, transactionID, reason string) error {
	return w.store.WithTx(ctx, func(tx storage.Querier) error {
		txn, err := tx.GetTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return err
		}
		if txn.Reconciled {
			return errs.Conflict("transaction %s is already reconciled", transactionID)
		}
		if err := tx.SetSuggestedMatch(ctx, tenantID, transactionID, ""); err != nil {
			return err
		}
		return tx.InsertMatchEvent(ctx, &storage.MatchEvent{
			ID:            uuid.New().String(),
			TenantID:      tenantID,
			TransactionID: transactionID,
			EventType:     storage.MatchEventRejection,
			Reason:        reason,
		})
	})
}

// raiseUnmatchedExceptions opens exceptions for transactions the batch
// found zero candidates for, once they have sat unreconciled past the
// configured age. Transactions that drew a suggestion or are mid split
// review are excluded. Idempotent: an existing open exception
// suppresses a new one.
func (w *Worker) raiseUnmatchedExceptions(ctx context.Context, tenantID string, txns []storage.BankTransaction) (int, error) {
	raised := 0
	for i := range txns {
		days := int(w.now().Sub(txns[i].Date).Hours() / 24)
		if days <= w.cfg.UnmatchedAfterDays {
			continue
		}

		severity := storage.SeverityMedium
		if days > 30 {
			severity = storage.SeverityHigh
		}
		score := float64(days) / 30
		if score > 1 {
			score = 1
		}

		created, err := RaiseException(ctx, w.store, &storage.ReconciliationException{
			TenantID:      tenantID,
			Type:          storage.ExceptionUnmatched,
			Severity:      severity,
			TransactionID: txns[i].ID,
			Description:   fmt.Sprintf("transaction unmatched for %d days", days),
			Score:         score,
		})
		if err != nil {
			return raised, err
		}
		if created {
			raised++
		}
	}
	return raised, nil
}

// RunAnomalyScan runs the anomaly detector over the lookback window and
// converts findings into exceptions. Findings deduplicate against open
// exceptions of the same type per transaction.
func (w *Worker) RunAnomalyScan(ctx context.Context, tenantID string) (int, error) {
	now := w.now()
	from := now.AddDate(0, 0, -w.cfg.LookbackDays)

	txns, err := w.store.ListTransactionsInWindow(ctx, tenantID, from, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to load transactions for anomaly scan")
	}

	findings := w.detector.Detect(txns, merchantKey)

	raised := 0
	for _, f := range findings {
		remediation, err := json.Marshal(f.Remediation)
		if err != nil {
			return raised, errors.Wrap(err, "failed to encode remediation")
		}
		created, err := RaiseException(ctx, w.store, &storage.ReconciliationException{
			TenantID:        tenantID,
			Type:            f.Type,
			Severity:        f.Severity,
			TransactionID:   f.TransactionID,
			Description:     f.Description,
			Score:           f.Score,
			RemediationJSON: string(remediation),
		})
		if err != nil {
			return raised, err
		}
		if created {
			raised++
		}
	}

	w.logger.Info("Anomaly scan complete",
		"tenant_id", tenantID, "findings", len(findings), "raised", raised)
	return raised, nil
}

// merchantKey derives a spend grouping key from the description: the
// leading token, lowercased. "ACME SUPPLIES INV-1042" and "ACME
// SUPPLIES INV-1055" group together.
func merchantKey(txn storage.BankTransaction) string {
	fields := strings.Fields(strings.ToLower(txn.Description))
	if len(fields) == 0 {
		return "unknown"
	}
	return fields[0]
}
