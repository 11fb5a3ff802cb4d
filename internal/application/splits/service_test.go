package splits

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/recon-backend/internal/domain/split"
	"github.com/ledgerline/recon-backend/internal/errs"
	"github.com/ledgerline/recon-backend/internal/infrastructure/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc   *Service
	store *storage.Storage
	txn   *storage.BankTransaction
	doc   *storage.Document
	entry *storage.LedgerEntry
}

func newFixture(t *testing.T, requireApproval bool) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	txn := &storage.BankTransaction{
		ID:          uuid.New().String(),
		TenantID:    "tenant-a",
		Amount:      decimal.RequireFromString("-100.00"),
		Currency:    "GBP",
		Date:        time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Description: "combined purchase",
		ExternalID:  uuid.New().String(),
	}
	require.NoError(t, store.InsertBankTransaction(ctx, txn))

	doc := &storage.Document{
		ID: "doc-1", TenantID: "tenant-a",
		Total: decimal.RequireFromString("60.00"),
		Date:  txn.Date, Vendor: "Acme",
	}
	require.NoError(t, store.InsertDocument(ctx, doc))

	entry := &storage.LedgerEntry{
		ID: "le-1", TenantID: "tenant-a",
		Amount: decimal.RequireFromString("-40.00"),
		Date:   txn.Date, AccountCode: "6000", Description: "remainder",
	}
	require.NoError(t, store.InsertLedgerEntry(ctx, entry))

	return &fixture{
		svc:   NewService(store, requireApproval, testLogger()),
		store: store,
		txn:   txn,
		doc:   doc,
		entry: entry,
	}
}

func balancedAllocations() []split.Allocation {
	return []split.Allocation{
		{Amount: decimal.RequireFromString("60.00"), Currency: "GBP", DocumentID: "doc-1"},
		{Amount: decimal.RequireFromString("40.00"), Currency: "GBP", LedgerEntryID: "le-1"},
	}
}

func TestSplitWorkflowEndToEnd(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	rows, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	txn, err := f.store.GetTransaction(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.True(t, txn.IsSplit)
	assert.Equal(t, storage.TxnSplitStatusDraft, txn.SplitStatus)

	require.NoError(t, f.svc.Submit(ctx, "tenant-a", f.txn.ID, "alex"))

	pending, err := f.svc.List(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	for _, s := range pending {
		assert.Equal(t, storage.SplitStatusPendingReview, s.Status)
		assert.Equal(t, "alex", s.SubmittedBy)
		require.NotNil(t, s.SubmittedAt)
	}

	require.NoError(t, f.svc.Approve(ctx, "tenant-a", f.txn.ID, "robin"))

	txn, err = f.store.GetTransaction(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.True(t, txn.Reconciled)
	assert.Equal(t, storage.TxnSplitStatusApplied, txn.SplitStatus)

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusPosted, doc.Status)

	entry, err := f.store.GetLedgerEntry(ctx, "tenant-a", "le-1")
	require.NoError(t, err)
	assert.True(t, entry.Reconciled)
	assert.Equal(t, f.txn.ID, entry.ReconciledWith)

	applied, err := f.svc.List(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	for _, s := range applied {
		assert.Equal(t, storage.SplitStatusApplied, s.Status)
		assert.Equal(t, "robin", s.ReviewedBy)
		require.NotNil(t, s.ReviewedAt)
	}

	trail, err := f.svc.AuditTrail(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, storage.TxnSplitStatusDraft, trail[0].NewStatus)
	assert.Equal(t, storage.TxnSplitStatusPendingReview, trail[1].NewStatus)
	assert.Equal(t, storage.TxnSplitStatusApplied, trail[2].NewStatus)
}

func TestReplaceRejectsUnbalancedAllocations(t *testing.T) {
	f := newFixture(t, true)

	allocations := []split.Allocation{
		{Amount: decimal.RequireFromString("60.00"), Currency: "GBP", DocumentID: "doc-1"},
		{Amount: decimal.RequireFromString("30.00"), Currency: "GBP", LedgerEntryID: "le-1"},
	}
	_, err := f.svc.Replace(context.Background(), "tenant-a", f.txn.ID, allocations, "alex")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	// Nothing persisted.
	rows, err := f.svc.List(context.Background(), "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReplaceRejectsCurrencyMismatch(t *testing.T) {
	f := newFixture(t, true)

	allocations := []split.Allocation{
		{Amount: decimal.RequireFromString("100.00"), Currency: "USD", DocumentID: "doc-1"},
	}
	_, err := f.svc.Replace(context.Background(), "tenant-a", f.txn.ID, allocations, "alex")
	assert.True(t, errs.IsValidation(err))
}

func TestReplaceRejectsDualReference(t *testing.T) {
	f := newFixture(t, true)

	allocations := []split.Allocation{
		{Amount: decimal.RequireFromString("100.00"), Currency: "GBP", DocumentID: "doc-1", LedgerEntryID: "le-1"},
	}
	_, err := f.svc.Replace(context.Background(), "tenant-a", f.txn.ID, allocations, "alex")
	assert.True(t, errs.IsValidation(err))
}

func TestReplaceRejectsUnknownDocument(t *testing.T) {
	f := newFixture(t, true)

	allocations := []split.Allocation{
		{Amount: decimal.RequireFromString("60.00"), Currency: "GBP", DocumentID: "doc-missing"},
		{Amount: decimal.RequireFromString("40.00"), Currency: "GBP", LedgerEntryID: "le-1"},
	}
	_, err := f.svc.Replace(context.Background(), "tenant-a", f.txn.ID, allocations, "alex")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Contains(t, err.Error(), "doc-missing")
}

func TestReplaceConflictsOnReconciledTransaction(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	require.NoError(t, f.store.MarkTransactionReconciled(ctx, f.txn))

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	assert.True(t, errs.IsConflict(err))
}

func TestReplaceConflictsWhilePendingReview(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)
	require.NoError(t, f.svc.Submit(ctx, "tenant-a", f.txn.ID, "alex"))

	_, err = f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	assert.True(t, errs.IsConflict(err))
}

func TestRejectReturnsToDraftPreservingAmounts(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)
	require.NoError(t, f.svc.Submit(ctx, "tenant-a", f.txn.ID, "alex"))
	require.NoError(t, f.svc.Reject(ctx, "tenant-a", f.txn.ID, "robin", "receipt does not cover the document share"))

	rows, err := f.svc.List(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	total := decimal.Zero
	for _, s := range rows {
		assert.Equal(t, storage.SplitStatusDraft, s.Status)
		assert.Empty(t, s.SubmittedBy)
		assert.Nil(t, s.SubmittedAt)
		assert.Equal(t, "robin", s.ReviewedBy)
		require.NotNil(t, s.ReviewedAt)
		assert.Equal(t, "receipt does not cover the document share", s.Notes)
		total = total.Add(s.Amount)
	}
	assert.True(t, total.Equal(decimal.RequireFromString("100.00")))

	txn, err := f.store.GetTransaction(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.False(t, txn.Reconciled)
	assert.Equal(t, storage.TxnSplitStatusDraft, txn.SplitStatus)

	trail, err := f.svc.AuditTrail(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, storage.TxnSplitStatusDraft, last.NewStatus)
	assert.Equal(t, "receipt does not cover the document share", last.Notes)
}

func TestSubmitWithoutApprovalAppliesImmediately(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)
	require.NoError(t, f.svc.Submit(ctx, "tenant-a", f.txn.ID, "alex"))

	txn, err := f.store.GetTransaction(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.True(t, txn.Reconciled)
	assert.Equal(t, storage.TxnSplitStatusApplied, txn.SplitStatus)

	doc, err := f.store.GetDocument(ctx, "tenant-a", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentStatusPosted, doc.Status)
}

func TestSubmitConflictsWithoutDraft(t *testing.T) {
	f := newFixture(t, true)

	err := f.svc.Submit(context.Background(), "tenant-a", f.txn.ID, "alex")
	assert.True(t, errs.IsConflict(err))
}

func TestApproveConflictsWithoutPending(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)

	err = f.svc.Approve(ctx, "tenant-a", f.txn.ID, "robin")
	assert.True(t, errs.IsConflict(err))
}

func TestDeleteDraftClearsSplitState(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, "tenant-a", f.txn.ID, "alex"))

	rows, err := f.svc.List(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	txn, err := f.store.GetTransaction(ctx, "tenant-a", f.txn.ID)
	require.NoError(t, err)
	assert.False(t, txn.IsSplit)
	assert.Equal(t, storage.TxnSplitStatusNone, txn.SplitStatus)
}

func TestDeleteConflictsOncePending(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Replace(ctx, "tenant-a", f.txn.ID, balancedAllocations(), "alex")
	require.NoError(t, err)
	require.NoError(t, f.svc.Submit(ctx, "tenant-a", f.txn.ID, "alex"))

	err = f.svc.Delete(ctx, "tenant-a", f.txn.ID, "alex")
	assert.True(t, errs.IsConflict(err))
}
