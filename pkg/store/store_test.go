package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(submissionID, borrowerID string) *models.Ledger {
	now := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 1, 0)
	return &models.Ledger{
		ID:                          uuid.New(),
		SubmissionID:                submissionID,
		BorrowerID:                  borrowerID,
		DisbursedAmount:             decimal.NewFromInt(2000),
		AnnualRate:                  decimal.NewFromInt(12),
		TenureMonths:                2,
		CurrentOutstandingPrincipal: decimal.NewFromInt(2000),
		Status:                      models.StatusActive,
		NextDueDate:                 &due,
		Installments: []models.Installment{
			{Number: 1, DueDate: due, PrincipalDue: decimal.RequireFromString("995.02"), InterestDue: decimal.NewFromInt(20), Status: models.InstallmentPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// storageContract runs the behavior every Storage implementation must share.
func storageContract(t *testing.T, open func(t *testing.T) Storage) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		ledger := newTestLedger("sub-1", "borrower-1")
		require.NoError(t, s.CreateLedger(ctx, ledger))
		assert.Equal(t, int64(1), ledger.Version)

		fetched, err := s.GetLedger(ctx, ledger.ID)
		require.NoError(t, err)
		assert.Equal(t, "borrower-1", fetched.BorrowerID)
		assert.True(t, fetched.DisbursedAmount.Equal(ledger.DisbursedAmount))
		assert.True(t, fetched.Installments[0].PrincipalDue.Equal(decimal.RequireFromString("995.02")))
		assert.Equal(t, int64(1), fetched.Version)

		bySubmission, err := s.GetLedgerBySubmission(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, ledger.ID, bySubmission.ID)
	})

	t.Run("duplicate submission", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.CreateLedger(ctx, newTestLedger("sub-dup", "b")))
		err := s.CreateLedger(ctx, newTestLedger("sub-dup", "b"))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("missing ledger", func(t *testing.T) {
		s := open(t)
		_, err := s.GetLedger(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetLedgerBySubmission(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		err = s.UpdateLedger(ctx, newTestLedger("ghost", "b"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("reads are independent copies", func(t *testing.T) {
		s := open(t)
		ledger := newTestLedger("sub-copy", "b")
		require.NoError(t, s.CreateLedger(ctx, ledger))

		first, err := s.GetLedger(ctx, ledger.ID)
		require.NoError(t, err)
		first.Installments[0].PrincipalPaid = decimal.NewFromInt(10)

		second, err := s.GetLedger(ctx, ledger.ID)
		require.NoError(t, err)
		assert.True(t, second.Installments[0].PrincipalPaid.IsZero())
	})

	t.Run("optimistic versioning", func(t *testing.T) {
		s := open(t)
		ledger := newTestLedger("sub-ver", "b")
		require.NoError(t, s.CreateLedger(ctx, ledger))

		a, err := s.GetLedger(ctx, ledger.ID)
		require.NoError(t, err)
		b, err := s.GetLedger(ctx, ledger.ID)
		require.NoError(t, err)

		a.Status = models.StatusActiveOverdue
		require.NoError(t, s.UpdateLedger(ctx, a))
		assert.Equal(t, int64(2), a.Version)

		b.Status = models.StatusDefaulted
		assert.ErrorIs(t, s.UpdateLedger(ctx, b), ErrVersionConflict)
		assert.Equal(t, int64(1), b.Version)

		stored, err := s.GetLedger(ctx, ledger.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusActiveOverdue, stored.Status)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("list by borrower and status", func(t *testing.T) {
		s := open(t)
		one := newTestLedger("sub-a", "borrower-x")
		two := newTestLedger("sub-b", "borrower-x")
		two.CreatedAt = one.CreatedAt.Add(time.Hour)
		two.Status = models.StatusFullyRepaid
		other := newTestLedger("sub-c", "borrower-y")
		for _, l := range []*models.Ledger{one, two, other} {
			require.NoError(t, s.CreateLedger(ctx, l))
		}

		mine, err := s.GetLedgersByBorrower(ctx, "borrower-x")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, one.ID, mine[0].ID)
		assert.Equal(t, two.ID, mine[1].ID)

		active, err := s.GetLedgersByStatus(ctx, models.StatusActive, models.StatusActiveGrace)
		require.NoError(t, err)
		assert.Len(t, active, 2)

		none, err := s.GetLedgersByStatus(ctx)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMemoryStore(t *testing.T) {
	storageContract(t, func(t *testing.T) Storage {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storageContract(t, func(t *testing.T) Storage {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	ledger := newTestLedger("sub-reopen", "b")
	ledger.ProductCode = "PL-12"
	require.NoError(t, s.CreateLedger(ctx, ledger))
	require.NoError(t, s.Close())

	// Opening again reruns the column migrations against an existing table.
	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	fetched, err := s.GetLedger(ctx, ledger.ID)
	require.NoError(t, err)
	assert.Equal(t, "PL-12", fetched.ProductCode)
	require.NotNil(t, fetched.NextDueDate)
	assert.True(t, fetched.NextDueDate.Equal(*ledger.NextDueDate))
}
