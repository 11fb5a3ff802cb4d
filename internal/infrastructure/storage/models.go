package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document lifecycle states. The document pipeline writes "classified";
// this engine only ever moves a document to "posted".
const (
	DocumentStatusClassified = "classified"
	DocumentStatusPosted     = "posted"
)

// Split workflow states.
const (
	SplitStatusDraft         = "draft"
	SplitStatusPendingReview = "pending_review"
	SplitStatusApplied       = "applied"
	SplitStatusVoid          = "void"
)

// Transaction-level split status values ("" means not split).
const (
	TxnSplitStatusNone          = ""
	TxnSplitStatusDraft         = "draft"
	TxnSplitStatusPendingReview = "pending_review"
	TxnSplitStatusApplied       = "applied"
)

// Exception types and lifecycle.
const (
	ExceptionUnmatched       = "unmatched"
	ExceptionDuplicate       = "duplicate"
	ExceptionUnusualSpend    = "unusual_spend"
	ExceptionMissingDocument = "missing_document"
	ExceptionAnomaly         = "anomaly"

	ExceptionStatusOpen     = "open"
	ExceptionStatusResolved = "resolved"
)

// Exception severities.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Match event types and reason codes.
const (
	MatchEventAutoMatch   = "auto_match"
	MatchEventManualMatch = "manual_match"
	MatchEventSuggestion  = "suggestion"
	MatchEventRejection   = "rejection"

	ReasonHighConfidenceAutoMatch = "high_confidence_auto_match"
	ReasonBelowAutoThreshold      = "below_auto_threshold"
	ReasonReviewerAccepted        = "reviewer_accepted"
)

// BankTransaction is a tenant-scoped bank feed row. The core fields
// (amount, currency, date, description, external id) are written by
// ingestion and immutable here; only the reconciliation fields are
// mutated by this engine. Rows are never deleted.
type BankTransaction struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	ExternalID  string          `json:"external_id"`

	Reconciled           bool   `json:"reconciled"`
	MatchedLedgerEntryID string `json:"matched_ledger_entry_id,omitempty"`
	MatchedDocumentID    string `json:"matched_document_id,omitempty"`
	SuggestedMatchJSON   string `json:"-"`
	IsSplit              bool   `json:"is_split"`
	SplitStatus          string `json:"split_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is a tenant-scoped accounting record owned by the ledger
// subsystem. The engine writes only Reconciled and ReconciledWith.
type LedgerEntry struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Amount      decimal.Decimal `json:"amount"`
	AccountCode string          `json:"account_code"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`

	Reconciled     bool   `json:"reconciled"`
	ReconciledWith string `json:"reconciled_with,omitempty"` // bank transaction id
}

// Document is an extracted financial document produced by the document
// pipeline. The engine reads classified documents as match candidates
// and marks them posted on application.
type Document struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	Total    decimal.Decimal `json:"total"`
	Date     time.Time       `json:"date"`
	Vendor   string          `json:"vendor"`
	Status   string          `json:"status"`
}

// ReconciliationMatch is the durable, append-only record of an applied
// pairing. One row per successful match.
type ReconciliationMatch struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	LedgerEntryID string    `json:"ledger_entry_id,omitempty"`
	DocumentID    string    `json:"document_id,omitempty"`
	Score         float64   `json:"score"`
	Confidence    float64   `json:"confidence"`
	SignalsJSON   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// MatchEvent is the append-only explainability trail: one row per
// matching decision (auto-match, suggestion, rejection). Never mutated
// after insert.
type MatchEvent struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	EventType     string    `json:"event_type"`
	Reason        string    `json:"reason"`
	SignalsJSON   string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// TransactionSplit is one of N allocations of a single bank
// transaction's amount. Exactly one of DocumentID / LedgerEntryID is
// set. For a given transaction the split amounts must sum to the
// transaction amount within tolerance whenever status is not draft.
type TransactionSplit struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DocumentID    string          `json:"document_id,omitempty"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty"`
	Status        string          `json:"status"`
	Notes         string          `json:"notes,omitempty"`
	SubmittedBy   string          `json:"submitted_by,omitempty"`
	SubmittedAt   *time.Time      `json:"submitted_at,omitempty"`
	ReviewedBy    string          `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReconciliationException is a flagged problem requiring review.
// Open exceptions resolve automatically when their transaction becomes
// reconciled, or manually via the review surface.
type ReconciliationException struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Type            string     `json:"type"`
	Severity        string     `json:"severity"`
	Status          string     `json:"status"`
	TransactionID   string     `json:"transaction_id,omitempty"`
	DocumentID      string     `json:"document_id,omitempty"`
	Description     string     `json:"description"`
	Score           float64    `json:"score"`
	RemediationJSON string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
}

// SplitAuditEntry records one split workflow transition.
type SplitAuditEntry struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	OldStatus     string    `json:"old_status"`
	NewStatus     string    `json:"new_status"`
	Actor         string    `json:"actor"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DeadLetterJob is a reconciliation job that exhausted its retries and
// needs manual triage.
type DeadLetterJob struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	TransactionID string    `json:"transaction_id"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	CreatedAt     time.Time `json:"created_at"`
}
