package storage

import (
	"context"
	"time"
)

// Querier is the read/write surface shared by the plain database handle
// and a transaction handle. Services that need atomicity run their work
// through Repository.WithTx and receive the same surface bound to the
// transaction.
type Querier interface {
	// Bank transactions (owned by ingestion; this engine mutates only
	// the reconciliation fields).
	InsertBankTransaction(ctx context.Context, txn *BankTransaction) error
	GetTransaction(ctx context.Context, tenantID, id string) (*BankTransaction, error)
	ListUnreconciled(ctx context.Context, tenantID string, since time.Time) ([]BankTransaction, error)
	ListTransactionsInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]BankTransaction, error)
	MarkTransactionReconciled(ctx context.Context, txn *BankTransaction) error
	SetSuggestedMatch(ctx context.Context, tenantID, id, suggestionJSON string) error
	SetTransactionSplitFields(ctx context.Context, tenantID, id string, isSplit bool, splitStatus string) error

	// Ledger entries (owned by the ledger subsystem; this engine writes
	// only reconciled/reconciled_with).
	InsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error
	GetLedgerEntry(ctx context.Context, tenantID, id string) (*LedgerEntry, error)
	ListOpenLedgerEntries(ctx context.Context, tenantID string, from, to time.Time) ([]LedgerEntry, error)
	MarkLedgerEntryReconciled(ctx context.Context, tenantID, id, transactionID string) error

	// Documents (owned by the document pipeline; this engine writes only
	// the posted status).
	InsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, tenantID, id string) (*Document, error)
	ListClassifiedDocuments(ctx context.Context, tenantID string, from, to time.Time) ([]Document, error)
	SetDocumentStatus(ctx context.Context, tenantID, id, status string) error

	// Applied matches and the decision event trail (both append-only).
	InsertMatch(ctx context.Context, match *ReconciliationMatch) error
	CountMatchesForTransaction(ctx context.Context, tenantID, transactionID string) (int, error)
	InsertMatchEvent(ctx context.Context, event *MatchEvent) error
	ListMatchEvents(ctx context.Context, tenantID, transactionID string) ([]MatchEvent, error)

	// Transaction splits.
	ListSplits(ctx context.Context, tenantID, transactionID string) ([]TransactionSplit, error)
	ReplaceSplits(ctx context.Context, tenantID, transactionID string, splits []TransactionSplit) error
	UpdateSplit(ctx context.Context, s *TransactionSplit) error
	DeleteSplits(ctx context.Context, tenantID, transactionID string) error

	// Exceptions.
	InsertException(ctx context.Context, exc *ReconciliationException) error
	GetException(ctx context.Context, tenantID, id string) (*ReconciliationException, error)
	FindOpenException(ctx context.Context, tenantID, excType, transactionID string) (*ReconciliationException, error)
	ListExceptions(ctx context.Context, tenantID, status string) ([]ReconciliationException, error)
	ListExceptionsForTransaction(ctx context.Context, tenantID, transactionID, status string) ([]ReconciliationException, error)
	ResolveException(ctx context.Context, tenantID, id, resolvedBy string) error
	ResolveExceptionsForTransaction(ctx context.Context, tenantID, transactionID, resolvedBy string) (int, error)

	// Split workflow audit log (append-only).
	InsertSplitAudit(ctx context.Context, entry *SplitAuditEntry) error
	ListSplitAudit(ctx context.Context, tenantID, transactionID string) ([]SplitAuditEntry, error)

	// Dead-letter jobs.
	InsertDeadLetterJob(ctx context.Context, job *DeadLetterJob) error
	ListDeadLetterJobs(ctx context.Context, tenantID string) ([]DeadLetterJob, error)

	// Tenants with work available (drives the worker's batch loop).
	ListTenantsWithUnreconciled(ctx context.Context, since time.Time) ([]string, error)
}

// Repository is the full storage contract. WithTx runs fn atomically
// while holding the write lock for the duration: with SQLite that is an
// immediate transaction; a server-class implementation is expected to
// take SELECT ... FOR UPDATE on the rows it touches. Either way,
// concurrent mutation of the same bank transaction is serialized.
type Repository interface {
	Querier
	WithTx(ctx context.Context, fn func(tx Querier) error) error
	Close() error
}
