// Package split validates manual split allocations against the owning
// bank transaction. The rules live here, away from the database, so the
// balance invariant is unit-testable; the workflow service applies them
// inside its locked transaction before any write.
package split

import (
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

// Tolerance is the fixed absolute balance tolerance. A currency-minor-
// unit aware policy was considered and deferred; 0.01 covers every
// currency the platform currently ingests.
var Tolerance = decimal.NewFromFloat(0.01)

// Allocation is one requested share of a transaction's amount. Exactly
// one of DocumentID / LedgerEntryID must be set.
type Allocation struct {
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DocumentID    string          `json:"document_id,omitempty"`
	LedgerEntryID string          `json:"ledger_entry_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// ValidateAllocations checks a full replacement split set against its
// transaction. It fails fast with a field-level ValidationError; the
// caller must not have written anything yet.
func ValidateAllocations(txn *storage.BankTransaction, allocations []Allocation) error {
	if len(allocations) == 0 {
		return errs.Validation("at least one split allocation is required")
	}

	for i, a := range allocations {
		if a.Amount.Sign() <= 0 {
			return errs.Validationf("allocations", "allocation %d: amount must be greater than zero", i)
		}
		if a.Currency != txn.Currency {
			return errs.Validationf("allocations",
				"allocation %d: currency %q does not match transaction currency %q", i, a.Currency, txn.Currency)
		}
		hasDoc := a.DocumentID != ""
		hasLedger := a.LedgerEntryID != ""
		if hasDoc == hasLedger {
			return errs.Validationf("allocations",
				"allocation %d: must reference exactly one document or ledger entry", i)
		}
	}

	return ValidateBalance(txn.Amount, allocations)
}

// ValidateBalance checks the core invariant: split amounts sum to the
// transaction amount within Tolerance. Split amounts are stored
// positive regardless of the transaction's sign.
func ValidateBalance(txnAmount decimal.Decimal, allocations []Allocation) error {
	if remaining := Remaining(txnAmount, allocations); remaining.Abs().GreaterThan(Tolerance) {
		return errs.Validationf("allocations",
			"sum of split amounts must equal the bank transaction amount (off by %s)",
			remaining.StringFixed(2))
	}
	return nil
}

// Remaining returns transaction amount minus the allocation sum. It can
// be negative (over-allocated) or positive (under-allocated).
func Remaining(txnAmount decimal.Decimal, allocations []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	return txnAmount.Abs().Sub(total)
}

// SplitsBalance checks persisted splits against the transaction amount,
// used when re-validating at approval time.
func SplitsBalance(txnAmount decimal.Decimal, splits []storage.TransactionSplit) bool {
	total := decimal.Zero
	for _, s := range splits {
		if s.Status == storage.SplitStatusVoid {
			continue
		}
		total = total.Add(s.Amount)
	}
	return !txnAmount.Abs().Sub(total).Abs().GreaterThan(Tolerance)
}
