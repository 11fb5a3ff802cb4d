package split

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func gbpTxn(amount float64) *storage.BankTransaction {
	return &storage.BankTransaction{
		ID:       "tx-1",
		TenantID: "tenant-1",
		Amount:   decimal.NewFromFloat(amount),
		Currency: "GBP",
		Date:     time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func alloc(amount float64, docID, ledgerID string) Allocation {
	return Allocation{
		Amount:        decimal.NewFromFloat(amount),
		Currency:      "GBP",
		DocumentID:    docID,
		LedgerEntryID: ledgerID,
	}
}

func TestValidateAllocationsBalanced(t *testing.T) {
	err := ValidateAllocations(gbpTxn(100), []Allocation{
		alloc(60, "doc-1", ""),
		alloc(40, "", "le-1"),
	})
	assert.NoError(t, err)
}

func TestValidateAllocationsWithinTolerance(t *testing.T) {
	err := ValidateAllocations(gbpTxn(100), []Allocation{
		alloc(60.00, "doc-1", ""),
		alloc(39.99, "", "le-1"),
	})
	assert.NoError(t, err)
}

func TestValidateAllocationsUnbalanced(t *testing.T) {
	err := ValidateAllocations(gbpTxn(100), []Allocation{
		alloc(60, "doc-1", ""),
		alloc(30, "", "le-1"),
	})
	assert.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "sum of split amounts must equal the bank transaction amount")
}

func TestValidateAllocationsNegativeTransactionUsesAbsolute(t *testing.T) {
	// Outgoing payments are ingested negative; splits are stored positive.
	err := ValidateAllocations(gbpTxn(-100), []Allocation{
		alloc(60, "doc-1", ""),
		alloc(40, "", "le-1"),
	})
	assert.NoError(t, err)
}

func TestValidateAllocationsRejections(t *testing.T) {
	tests := []struct {
		name        string
		allocations []Allocation
		wantMessage string
	}{
		{
			"empty set",
			nil,
			"at least one split allocation",
		},
		{
			"zero amount",
			[]Allocation{alloc(0, "doc-1", "")},
			"amount must be greater than zero",
		},
		{
			"negative amount",
			[]Allocation{alloc(-10, "doc-1", "")},
			"amount must be greater than zero",
		},
		{
			"both references",
			[]Allocation{alloc(100, "doc-1", "le-1")},
			"exactly one document or ledger entry",
		},
		{
			"no reference",
			[]Allocation{alloc(100, "", "")},
			"exactly one document or ledger entry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAllocations(gbpTxn(100), tt.allocations)
			assert.Error(t, err)
			assert.True(t, errs.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantMessage)
		})
	}
}

func TestValidateAllocationsWrongCurrency(t *testing.T) {
	bad := alloc(100, "doc-1", "")
	bad.Currency = "EUR"

	err := ValidateAllocations(gbpTxn(100), []Allocation{bad})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), `currency "EUR" does not match transaction currency "GBP"`)
}

func TestRemainingSign(t *testing.T) {
	under := Remaining(decimal.NewFromInt(100), []Allocation{alloc(60, "d", "")})
	assert.True(t, under.Equal(decimal.NewFromInt(40)))

	over := Remaining(decimal.NewFromInt(100), []Allocation{alloc(110, "d", "")})
	assert.True(t, over.Equal(decimal.NewFromInt(-10)))
}

func TestSplitsBalance(t *testing.T) {
	splits := []storage.TransactionSplit{
		{Amount: decimal.NewFromInt(60), Status: storage.SplitStatusPendingReview},
		{Amount: decimal.NewFromInt(40), Status: storage.SplitStatusPendingReview},
	}
	assert.True(t, SplitsBalance(decimal.NewFromInt(100), splits))
	assert.False(t, SplitsBalance(decimal.NewFromInt(120), splits))

	// Void splits do not count toward the balance.
	splits = append(splits, storage.TransactionSplit{
		Amount: decimal.NewFromInt(25), Status: storage.SplitStatusVoid,
	})
	assert.True(t, SplitsBalance(decimal.NewFromInt(100), splits))
}
