package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up:      migration001InitialSchema,
	},
	{
		Version: 2,
		Name:    "add_audit_and_dead_letter_tables",
		Up:      migration002AddAuditAndDeadLetterTables,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue // Already applied
		}

		tx, err := s.sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`
			INSERT INTO schema_migrations (version, name) VALUES (?, ?)
		`, migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table
func (s *Storage) ensureMigrationsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	_, err := s.sqlDB.Exec(query)
	return err
}

// getAppliedMigrations returns a set of applied migration versions
func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := s.sqlDB.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// migration001InitialSchema creates the core reconciliation tables.
// Amounts are stored as TEXT and round-tripped through decimal to keep
// balance arithmetic exact; dates are RFC3339 TEXT.
func migration001InitialSchema(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bank_transactions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			txn_date TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			external_id TEXT NOT NULL DEFAULT '',
			reconciled INTEGER NOT NULL DEFAULT 0,
			matched_ledger_entry_id TEXT NOT NULL DEFAULT '',
			matched_document_id TEXT NOT NULL DEFAULT '',
			suggested_match_json TEXT NOT NULL DEFAULT '',
			is_split INTEGER NOT NULL DEFAULT 0,
			split_status TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bank_transactions_tenant_reconciled
			ON bank_transactions(tenant_id, reconciled, txn_date)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bank_transactions_external
			ON bank_transactions(tenant_id, external_id)`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			account_code TEXT NOT NULL DEFAULT '',
			entry_date TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reconciled INTEGER NOT NULL DEFAULT 0,
			reconciled_with TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_entries_tenant_open
			ON ledger_entries(tenant_id, reconciled, entry_date)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			total TEXT NOT NULL,
			doc_date TEXT NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'classified'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_tenant_status
			ON documents(tenant_id, status, doc_date)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_matches (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			ledger_entry_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL,
			confidence REAL NOT NULL,
			signals_json TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_transaction
			ON reconciliation_matches(tenant_id, transaction_id)`,

		`CREATE TABLE IF NOT EXISTS match_events (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			signals_json TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_match_events_transaction
			ON match_events(tenant_id, transaction_id)`,

		`CREATE TABLE IF NOT EXISTS transaction_splits (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			ledger_entry_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'draft',
			notes TEXT NOT NULL DEFAULT '',
			submitted_by TEXT NOT NULL DEFAULT '',
			submitted_at TEXT,
			reviewed_by TEXT NOT NULL DEFAULT '',
			reviewed_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_splits_transaction
			ON transaction_splits(tenant_id, transaction_id)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_exceptions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			exc_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			transaction_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL DEFAULT 0,
			remediation_json TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			resolved_at TEXT,
			resolved_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_tenant_status
			ON reconciliation_exceptions(tenant_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_exceptions_dedupe
			ON reconciliation_exceptions(tenant_id, exc_type, transaction_id, status)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migration002AddAuditAndDeadLetterTables adds the split workflow audit
// log and the dead-letter table for exhausted queue jobs.
func migration002AddAuditAndDeadLetterTables(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS split_audit_log (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			old_status TEXT NOT NULL DEFAULT '',
			new_status TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_split_audit_transaction
			ON split_audit_log(tenant_id, transaction_id)`,

		`CREATE TABLE IF NOT EXISTS dead_letter_jobs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letter_tenant
			ON dead_letter_jobs(tenant_id)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
