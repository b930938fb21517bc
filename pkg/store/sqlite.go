package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/loanledger/pkg/models"
)

// SQLiteStore keeps one JSON document per ledger, with the columns needed for
// lookups and optimistic versioning alongside it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and initializes the schema.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the table if needed and adds columns introduced later.
// Money columns are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS ledgers (
		id TEXT PRIMARY KEY,
		submission_id TEXT NOT NULL UNIQUE,
		borrower_id TEXT NOT NULL,
		status TEXT NOT NULL,
		outstanding_principal TEXT NOT NULL,
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledgers_borrower ON ledgers(borrower_id);
	CREATE INDEX IF NOT EXISTS idx_ledgers_status ON ledgers(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []string{
		"product_code TEXT NOT NULL DEFAULT ''",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE ledgers ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// CreateLedger inserts a new ledger at version 1.
func (s *SQLiteStore) CreateLedger(ctx context.Context, ledger *models.Ledger) error {
	ledger.Version = 1
	doc, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledgers (id, submission_id, borrower_id, product_code, status, outstanding_principal, version, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ledger.ID.String(), ledger.SubmissionID, ledger.BorrowerID, ledger.ProductCode, string(ledger.Status),
		ledger.CurrentOutstandingPrincipal.String(), ledger.Version, string(doc), ledger.CreatedAt, ledger.UpdatedAt,
	)
	if err != nil {
		ledger.Version = 0
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

// GetLedger retrieves a ledger by its ID.
func (s *SQLiteStore) GetLedger(ctx context.Context, id uuid.UUID) (*models.Ledger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM ledgers WHERE id = ?`, id.String())
	return scanLedger(row)
}

// GetLedgerBySubmission retrieves the ledger created for a loan submission.
func (s *SQLiteStore) GetLedgerBySubmission(ctx context.Context, submissionID string) (*models.Ledger, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM ledgers WHERE submission_id = ?`, submissionID)
	return scanLedger(row)
}

// GetLedgersByBorrower lists a borrower's ledgers, oldest first.
func (s *SQLiteStore) GetLedgersByBorrower(ctx context.Context, borrowerID string) ([]*models.Ledger, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM ledgers WHERE borrower_id = ? ORDER BY created_at ASC`, borrowerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledgers for borrower %s: %w", borrowerID, err)
	}
	defer rows.Close()
	return scanLedgers(rows)
}

// GetLedgersByStatus lists ledgers in any of the given statuses.
func (s *SQLiteStore) GetLedgersByStatus(ctx context.Context, statuses ...models.LedgerStatus) ([]*models.Ledger, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	query := fmt.Sprintf(`SELECT document FROM ledgers WHERE status IN (%s) ORDER BY created_at ASC`, strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledgers by status: %w", err)
	}
	defer rows.Close()
	return scanLedgers(rows)
}

// UpdateLedger writes the ledger if nobody else updated it since it was read.
func (s *SQLiteStore) UpdateLedger(ctx context.Context, ledger *models.Ledger) error {
	expected := ledger.Version
	ledger.Version = expected + 1
	doc, err := json.Marshal(ledger)
	if err != nil {
		ledger.Version = expected
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE ledgers SET borrower_id = ?, product_code = ?, status = ?, outstanding_principal = ?, version = ?, document = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		ledger.BorrowerID, ledger.ProductCode, string(ledger.Status), ledger.CurrentOutstandingPrincipal.String(),
		ledger.Version, string(doc), time.Now(), ledger.ID.String(), expected,
	)
	if err != nil {
		ledger.Version = expected
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		ledger.Version = expected
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		ledger.Version = expected
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM ledgers WHERE id = ?`, ledger.ID.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check ledger existence: %w", err)
		}
		return ErrVersionConflict
	}
	return nil
}

func scanLedger(row *sql.Row) (*models.Ledger, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return decodeLedger(doc)
}

func scanLedgers(rows *sql.Rows) ([]*models.Ledger, error) {
	var ledgers []*models.Ledger
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		ledger, err := decodeLedger(doc)
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, ledger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return ledgers, nil
}

func decodeLedger(doc string) (*models.Ledger, error) {
	var ledger models.Ledger
	if err := json.Unmarshal([]byte(doc), &ledger); err != nil {
		return nil, fmt.Errorf("failed to decode ledger: %w", err)
	}
	return &ledger, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
