package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

var (
	ErrNotFound        = errors.New("ledger not found")
	ErrDuplicate       = errors.New("ledger already exists")
	ErrVersionConflict = errors.New("ledger was modified concurrently")
)

// Storage defines the interface for persisting repayment ledgers. A ledger is
// stored as one document; every read returns an independent copy.
type Storage interface {
	// CreateLedger stores a new ledger at version 1. A second ledger for the
	// same submission returns ErrDuplicate.
	CreateLedger(ctx context.Context, ledger *models.Ledger) error
	GetLedger(ctx context.Context, id uuid.UUID) (*models.Ledger, error)
	GetLedgerBySubmission(ctx context.Context, submissionID string) (*models.Ledger, error)
	GetLedgersByBorrower(ctx context.Context, borrowerID string) ([]*models.Ledger, error)
	GetLedgersByStatus(ctx context.Context, statuses ...models.LedgerStatus) ([]*models.Ledger, error)
	// UpdateLedger replaces the stored document when its version still equals
	// ledger.Version and bumps the version; otherwise it returns
	// ErrVersionConflict.
	UpdateLedger(ctx context.Context, ledger *models.Ledger) error

	Close() error
}
