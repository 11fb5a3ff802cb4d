package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/recon-backend/internal/errs"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query method
// works inside and outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements Querier against any dbtx.
type queries struct {
	db dbtx
}

// Storage is the SQLite-backed Repository.
type Storage struct {
	queries
	sqlDB *sql.DB
}

var _ Repository = (*Storage)(nil)

// txQuerier is the Querier handed to WithTx callbacks.
type txQuerier struct {
	queries
}

var _ Querier = (*txQuerier)(nil)

// NewStorage opens (or creates) the database at path and runs pending
// migrations. The DSN requests immediate transactions so WithTx takes
// the write lock up front rather than deadlocking on upgrade.
func NewStorage(path string) (*Storage, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// SQLite serializes writers anyway; a single connection keeps
	// in-memory databases coherent and avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	s := &Storage{
		queries: queries{db: db},
		sqlDB:   db,
	}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	return s, nil
}

// WithTx runs fn inside an immediate transaction. The callback sees the
// same Querier surface bound to the transaction; any error rolls the
// whole unit back.
func (s *Storage) WithTx(ctx context.Context, fn func(tx Querier) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	q := &txQuerier{queries{db: tx}}
	if err := fn(q); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed (%v) after", rbErr)
		}
		return err
	}

	return errors.Wrap(tx.Commit(), "failed to commit transaction")
}

// Close closes the underlying database handle.
func (s *Storage) Close() error {
	return s.sqlDB.Close()
}

// ---- encoding helpers ----

// timeLayout keeps a fixed-width fraction so stored timestamps sort
// lexically; RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid stored timestamp %q", s)
	}
	return t, nil
}

func parseStoredTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseStoredTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseStoredAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid stored amount %q", s)
	}
	return d, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

// ---- bank transactions ----

const transactionColumns = `id, tenant_id, amount, currency, txn_date, description, external_id,
	reconciled, matched_ledger_entry_id, matched_document_id, suggested_match_json,
	is_split, split_status, created_at, updated_at`

func scanTransaction(row rowScanner) (*BankTransaction, error) {
	var (
		txn                            BankTransaction
		amount, txnDate, created, updated string
		reconciled, isSplit            int
	)
	err := row.Scan(
		&txn.ID, &txn.TenantID, &amount, &txn.Currency, &txnDate, &txn.Description, &txn.ExternalID,
		&reconciled, &txn.MatchedLedgerEntryID, &txn.MatchedDocumentID, &txn.SuggestedMatchJSON,
		&isSplit, &txn.SplitStatus, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	if txn.Amount, err = parseStoredAmount(amount); err != nil {
		return nil, err
	}
	if txn.Date, err = parseStoredTime(txnDate); err != nil {
		return nil, err
	}
	if txn.CreatedAt, err = parseStoredTime(created); err != nil {
		return nil, err
	}
	if txn.UpdatedAt, err = parseStoredTime(updated); err != nil {
		return nil, err
	}
	txn.Reconciled = reconciled != 0
	txn.IsSplit = isSplit != 0
	return &txn, nil
}

func (q *queries) InsertBankTransaction(ctx context.Context, txn *BankTransaction) error {
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = now
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.TenantID, txn.Amount.String(), txn.Currency, fmtTime(txn.Date),
		txn.Description, txn.ExternalID,
		boolToInt(txn.Reconciled), txn.MatchedLedgerEntryID, txn.MatchedDocumentID, txn.SuggestedMatchJSON,
		boolToInt(txn.IsSplit), txn.SplitStatus, fmtTime(txn.CreatedAt), fmtTime(txn.UpdatedAt),
	)
	return errors.Wrap(err, "failed to insert bank transaction")
}

func (q *queries) GetTransaction(ctx context.Context, tenantID, id string) (*BankTransaction, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM bank_transactions WHERE tenant_id = ? AND id = ?`, tenantID, id)

	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("transaction", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	return txn, nil
}

func (q *queries) ListUnreconciled(ctx context.Context, tenantID string, since time.Time) ([]BankTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM bank_transactions
		WHERE tenant_id = ? AND reconciled = 0 AND txn_date >= ?
		ORDER BY txn_date ASC, id ASC`, tenantID, fmtTime(since))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unreconciled transactions")
	}
	return collectTransactions(rows)
}

func (q *queries) ListTransactionsInWindow(ctx context.Context, tenantID string, from, to time.Time) ([]BankTransaction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM bank_transactions
		WHERE tenant_id = ? AND txn_date >= ? AND txn_date <= ?
		ORDER BY txn_date ASC, id ASC`, tenantID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transactions in window")
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]BankTransaction, error) {
	defer func() { _ = rows.Close() }()

	var out []BankTransaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan transaction")
		}
		out = append(out, *txn)
	}
	return out, rows.Err()
}

func (q *queries) MarkTransactionReconciled(ctx context.Context, txn *BankTransaction) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET reconciled = 1,
		    matched_ledger_entry_id = ?,
		    matched_document_id = ?,
		    suggested_match_json = '',
		    updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		txn.MatchedLedgerEntryID, txn.MatchedDocumentID, fmtTime(time.Now()),
		txn.TenantID, txn.ID)
	if err != nil {
		return errors.Wrap(err, "failed to mark transaction reconciled")
	}
	return requireRowAffected(res, "transaction", txn.ID)
}

func (q *queries) SetSuggestedMatch(ctx context.Context, tenantID, id, suggestionJSON string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET suggested_match_json = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		suggestionJSON, fmtTime(time.Now()), tenantID, id)
	if err != nil {
		return errors.Wrap(err, "failed to set suggested match")
	}
	return requireRowAffected(res, "transaction", id)
}

func (q *queries) SetTransactionSplitFields(ctx context.Context, tenantID, id string, isSplit bool, splitStatus string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE bank_transactions
		SET is_split = ?, split_status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		boolToInt(isSplit), splitStatus, fmtTime(time.Now()), tenantID, id)
	if err != nil {
		return errors.Wrap(err, "failed to set transaction split fields")
	}
	return requireRowAffected(res, "transaction", id)
}

func requireRowAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errs.NotFound(resource, id)
	}
	return nil
}

// ---- ledger entries ----

const ledgerColumns = `id, tenant_id, amount, account_code, entry_date, description, reconciled, reconciled_with`

func scanLedgerEntry(row rowScanner) (*LedgerEntry, error) {
	var (
		entry             LedgerEntry
		amount, entryDate string
		reconciled        int
	)
	err := row.Scan(
		&entry.ID, &entry.TenantID, &amount, &entry.AccountCode, &entryDate,
		&entry.Description, &reconciled, &entry.ReconciledWith,
	)
	if err != nil {
		return nil, err
	}
	if entry.Amount, err = parseStoredAmount(amount); err != nil {
		return nil, err
	}
	if entry.Date, err = parseStoredTime(entryDate); err != nil {
		return nil, err
	}
	entry.Reconciled = reconciled != 0
	return &entry, nil
}

func (q *queries) InsertLedgerEntry(ctx context.Context, entry *LedgerEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.Amount.String(), entry.AccountCode,
		fmtTime(entry.Date), entry.Description, boolToInt(entry.Reconciled), entry.ReconciledWith,
	)
	return errors.Wrap(err, "failed to insert ledger entry")
}

func (q *queries) GetLedgerEntry(ctx context.Context, tenantID, id string) (*LedgerEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries WHERE tenant_id = ? AND id = ?`, tenantID, id)

	entry, err := scanLedgerEntry(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("ledger entry", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get ledger entry")
	}
	return entry, nil
}

func (q *queries) ListOpenLedgerEntries(ctx context.Context, tenantID string, from, to time.Time) ([]LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE tenant_id = ? AND reconciled = 0 AND entry_date >= ? AND entry_date <= ?
		ORDER BY entry_date ASC, id ASC`, tenantID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list open ledger entries")
	}
	defer func() { _ = rows.Close() }()

	var out []LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan ledger entry")
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func (q *queries) MarkLedgerEntryReconciled(ctx context.Context, tenantID, id, transactionID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET reconciled = 1, reconciled_with = ?
		WHERE tenant_id = ? AND id = ?`, transactionID, tenantID, id)
	if err != nil {
		return errors.Wrap(err, "failed to mark ledger entry reconciled")
	}
	return requireRowAffected(res, "ledger entry", id)
}

// ---- documents ----

const documentColumns = `id, tenant_id, total, doc_date, vendor, status`

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc            Document
		total, docDate string
	)
	err := row.Scan(&doc.ID, &doc.TenantID, &total, &docDate, &doc.Vendor, &doc.Status)
	if err != nil {
		return nil, err
	}
	if doc.Total, err = parseStoredAmount(total); err != nil {
		return nil, err
	}
	if doc.Date, err = parseStoredTime(docDate); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (q *queries) InsertDocument(ctx context.Context, doc *Document) error {
	if doc.Status == "" {
		doc.Status = DocumentStatusClassified
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.TenantID, doc.Total.String(), fmtTime(doc.Date), doc.Vendor, doc.Status,
	)
	return errors.Wrap(err, "failed to insert document")
}

func (q *queries) GetDocument(ctx context.Context, tenantID, id string) (*Document, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents WHERE tenant_id = ? AND id = ?`, tenantID, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("document", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get document")
	}
	return doc, nil
}

func (q *queries) ListClassifiedDocuments(ctx context.Context, tenantID string, from, to time.Time) ([]Document, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE tenant_id = ? AND status = ? AND doc_date >= ? AND doc_date <= ?
		ORDER BY doc_date ASC, id ASC`,
		tenantID, DocumentStatusClassified, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list classified documents")
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan document")
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

func (q *queries) SetDocumentStatus(ctx context.Context, tenantID, id, status string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE documents SET status = ? WHERE tenant_id = ? AND id = ?`,
		status, tenantID, id)
	if err != nil {
		return errors.Wrap(err, "failed to set document status")
	}
	return requireRowAffected(res, "document", id)
}

// ---- matches and match events ----

func (q *queries) InsertMatch(ctx context.Context, match *ReconciliationMatch) error {
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reconciliation_matches
			(id, tenant_id, transaction_id, ledger_entry_id, document_id, score, confidence, signals_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		match.ID, match.TenantID, match.TransactionID, match.LedgerEntryID, match.DocumentID,
		match.Score, match.Confidence, match.SignalsJSON, fmtTime(match.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert match")
}

func (q *queries) CountMatchesForTransaction(ctx context.Context, tenantID, transactionID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reconciliation_matches
		WHERE tenant_id = ? AND transaction_id = ?`, tenantID, transactionID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count matches")
	}
	return count, nil
}

func (q *queries) InsertMatchEvent(ctx context.Context, event *MatchEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO match_events (id, tenant_id, transaction_id, event_type, reason, signals_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, event.TransactionID, event.EventType,
		event.Reason, event.SignalsJSON, fmtTime(event.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert match event")
}

func (q *queries) ListMatchEvents(ctx context.Context, tenantID, transactionID string) ([]MatchEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, transaction_id, event_type, reason, signals_json, created_at
		FROM match_events
		WHERE tenant_id = ? AND transaction_id = ?
		ORDER BY created_at ASC, id ASC`, tenantID, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list match events")
	}
	defer func() { _ = rows.Close() }()

	var out []MatchEvent
	for rows.Next() {
		var (
			event   MatchEvent
			created string
		)
		if err := rows.Scan(&event.ID, &event.TenantID, &event.TransactionID,
			&event.EventType, &event.Reason, &event.SignalsJSON, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan match event")
		}
		if event.CreatedAt, err = parseStoredTime(created); err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// ---- transaction splits ----

const splitColumns = `id, tenant_id, transaction_id, amount, currency, document_id, ledger_entry_id,
	status, notes, submitted_by, submitted_at, reviewed_by, reviewed_at, created_at`

func scanSplit(row rowScanner) (*TransactionSplit, error) {
	var (
		s                     TransactionSplit
		amount, created       string
		submittedAt, reviewed sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.TenantID, &s.TransactionID, &amount, &s.Currency, &s.DocumentID, &s.LedgerEntryID,
		&s.Status, &s.Notes, &s.SubmittedBy, &submittedAt, &s.ReviewedBy, &reviewed, &created,
	)
	if err != nil {
		return nil, err
	}
	if s.Amount, err = parseStoredAmount(amount); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseStoredTime(created); err != nil {
		return nil, err
	}
	if s.SubmittedAt, err = parseStoredTimePtr(submittedAt); err != nil {
		return nil, err
	}
	if s.ReviewedAt, err = parseStoredTimePtr(reviewed); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) ListSplits(ctx context.Context, tenantID, transactionID string) ([]TransactionSplit, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+splitColumns+`
		FROM transaction_splits
		WHERE tenant_id = ? AND transaction_id = ?
		ORDER BY created_at ASC, id ASC`, tenantID, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list splits")
	}
	defer func() { _ = rows.Close() }()

	var out []TransactionSplit
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan split")
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (q *queries) insertSplit(ctx context.Context, s *TransactionSplit) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transaction_splits (`+splitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TenantID, s.TransactionID, s.Amount.String(), s.Currency,
		s.DocumentID, s.LedgerEntryID, s.Status, s.Notes,
		s.SubmittedBy, fmtTimePtr(s.SubmittedAt), s.ReviewedBy, fmtTimePtr(s.ReviewedAt),
		fmtTime(s.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert split")
}

// ReplaceSplits swaps the transaction's full allocation set in place.
// Draft edits always rewrite the whole set so partial states never hit
// disk.
func (q *queries) ReplaceSplits(ctx context.Context, tenantID, transactionID string, splits []TransactionSplit) error {
	if err := q.DeleteSplits(ctx, tenantID, transactionID); err != nil {
		return err
	}
	for i := range splits {
		if err := q.insertSplit(ctx, &splits[i]); err != nil {
			return err
		}
	}
	return nil
}

func (q *queries) UpdateSplit(ctx context.Context, s *TransactionSplit) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE transaction_splits
		SET amount = ?, currency = ?, document_id = ?, ledger_entry_id = ?,
		    status = ?, notes = ?, submitted_by = ?, submitted_at = ?,
		    reviewed_by = ?, reviewed_at = ?
		WHERE tenant_id = ? AND id = ?`,
		s.Amount.String(), s.Currency, s.DocumentID, s.LedgerEntryID,
		s.Status, s.Notes, s.SubmittedBy, fmtTimePtr(s.SubmittedAt),
		s.ReviewedBy, fmtTimePtr(s.ReviewedAt),
		s.TenantID, s.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update split")
	}
	return requireRowAffected(res, "split", s.ID)
}

func (q *queries) DeleteSplits(ctx context.Context, tenantID, transactionID string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM transaction_splits WHERE tenant_id = ? AND transaction_id = ?`,
		tenantID, transactionID)
	return errors.Wrap(err, "failed to delete splits")
}

// ---- exceptions ----

const exceptionColumns = `id, tenant_id, exc_type, severity, status, transaction_id, document_id,
	description, score, remediation_json, created_at, resolved_at, resolved_by`

func scanException(row rowScanner) (*ReconciliationException, error) {
	var (
		exc      ReconciliationException
		created  string
		resolved sql.NullString
	)
	err := row.Scan(
		&exc.ID, &exc.TenantID, &exc.Type, &exc.Severity, &exc.Status,
		&exc.TransactionID, &exc.DocumentID, &exc.Description, &exc.Score,
		&exc.RemediationJSON, &created, &resolved, &exc.ResolvedBy,
	)
	if err != nil {
		return nil, err
	}
	if exc.CreatedAt, err = parseStoredTime(created); err != nil {
		return nil, err
	}
	if exc.ResolvedAt, err = parseStoredTimePtr(resolved); err != nil {
		return nil, err
	}
	return &exc, nil
}

func (q *queries) InsertException(ctx context.Context, exc *ReconciliationException) error {
	if exc.CreatedAt.IsZero() {
		exc.CreatedAt = time.Now().UTC()
	}
	if exc.Status == "" {
		exc.Status = ExceptionStatusOpen
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reconciliation_exceptions (`+exceptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exc.ID, exc.TenantID, exc.Type, exc.Severity, exc.Status,
		exc.TransactionID, exc.DocumentID, exc.Description, exc.Score,
		exc.RemediationJSON, fmtTime(exc.CreatedAt), fmtTimePtr(exc.ResolvedAt), exc.ResolvedBy,
	)
	return errors.Wrap(err, "failed to insert exception")
}

func (q *queries) GetException(ctx context.Context, tenantID, id string) (*ReconciliationException, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM reconciliation_exceptions WHERE tenant_id = ? AND id = ?`, tenantID, id)

	exc, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("exception", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get exception")
	}
	return exc, nil
}

func (q *queries) FindOpenException(ctx context.Context, tenantID, excType, transactionID string) (*ReconciliationException, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM reconciliation_exceptions
		WHERE tenant_id = ? AND exc_type = ? AND transaction_id = ? AND status = ?
		ORDER BY created_at ASC LIMIT 1`,
		tenantID, excType, transactionID, ExceptionStatusOpen)

	exc, err := scanException(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFound("exception", transactionID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find open exception")
	}
	return exc, nil
}

func (q *queries) ListExceptions(ctx context.Context, tenantID, status string) ([]ReconciliationException, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM reconciliation_exceptions
		WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list exceptions")
	}
	return collectExceptions(rows)
}

func (q *queries) ListExceptionsForTransaction(ctx context.Context, tenantID, transactionID, status string) ([]ReconciliationException, error) {
	query := `
		SELECT ` + exceptionColumns + `
		FROM reconciliation_exceptions
		WHERE tenant_id = ? AND transaction_id = ?`
	args := []any{tenantID, transactionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list exceptions for transaction")
	}
	return collectExceptions(rows)
}

func collectExceptions(rows *sql.Rows) ([]ReconciliationException, error) {
	defer func() { _ = rows.Close() }()

	var out []ReconciliationException
	for rows.Next() {
		exc, err := scanException(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan exception")
		}
		out = append(out, *exc)
	}
	return out, rows.Err()
}

func (q *queries) ResolveException(ctx context.Context, tenantID, id, resolvedBy string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE reconciliation_exceptions
		SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		ExceptionStatusResolved, fmtTime(time.Now()), resolvedBy,
		tenantID, id, ExceptionStatusOpen)
	if err != nil {
		return errors.Wrap(err, "failed to resolve exception")
	}
	return requireRowAffected(res, "exception", id)
}

func (q *queries) ResolveExceptionsForTransaction(ctx context.Context, tenantID, transactionID, resolvedBy string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE reconciliation_exceptions
		SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE tenant_id = ? AND transaction_id = ? AND status = ?`,
		ExceptionStatusResolved, fmtTime(time.Now()), resolvedBy,
		tenantID, transactionID, ExceptionStatusOpen)
	if err != nil {
		return 0, errors.Wrap(err, "failed to resolve exceptions for transaction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return int(n), nil
}

// ---- split audit log ----

func (q *queries) InsertSplitAudit(ctx context.Context, entry *SplitAuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO split_audit_log (id, tenant_id, transaction_id, old_status, new_status, actor, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.TransactionID, entry.OldStatus, entry.NewStatus,
		entry.Actor, entry.Notes, fmtTime(entry.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert split audit entry")
}

func (q *queries) ListSplitAudit(ctx context.Context, tenantID, transactionID string) ([]SplitAuditEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, transaction_id, old_status, new_status, actor, notes, created_at
		FROM split_audit_log
		WHERE tenant_id = ? AND transaction_id = ?
		ORDER BY created_at ASC, id ASC`, tenantID, transactionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list split audit entries")
	}
	defer func() { _ = rows.Close() }()

	var out []SplitAuditEntry
	for rows.Next() {
		var (
			entry   SplitAuditEntry
			created string
		)
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.TransactionID,
			&entry.OldStatus, &entry.NewStatus, &entry.Actor, &entry.Notes, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan split audit entry")
		}
		if entry.CreatedAt, err = parseStoredTime(created); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ---- dead-letter jobs ----

func (q *queries) InsertDeadLetterJob(ctx context.Context, job *DeadLetterJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dead_letter_jobs (id, tenant_id, transaction_id, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.TransactionID, job.Attempts, job.LastError, fmtTime(job.CreatedAt),
	)
	return errors.Wrap(err, "failed to insert dead letter job")
}

func (q *queries) ListDeadLetterJobs(ctx context.Context, tenantID string) ([]DeadLetterJob, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, tenant_id, transaction_id, attempts, last_error, created_at
		FROM dead_letter_jobs
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id ASC`, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list dead letter jobs")
	}
	defer func() { _ = rows.Close() }()

	var out []DeadLetterJob
	for rows.Next() {
		var (
			job     DeadLetterJob
			created string
		)
		if err := rows.Scan(&job.ID, &job.TenantID, &job.TransactionID,
			&job.Attempts, &job.LastError, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan dead letter job")
		}
		if job.CreatedAt, err = parseStoredTime(created); err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// ---- tenants ----

func (q *queries) ListTenantsWithUnreconciled(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM bank_transactions
		WHERE reconciled = 0 AND txn_date >= ?
		ORDER BY tenant_id ASC`, fmtTime(since))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tenants")
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, errors.Wrap(err, "failed to scan tenant id")
		}
		out = append(out, tenantID)
	}
	return out, rows.Err()
}
