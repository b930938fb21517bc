package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcclellann/loanledger/pkg/models"
)

// MemoryStore is an in-memory Storage. Ledgers are kept encoded so that
// callers never share state with the store or with each other.
type MemoryStore struct {
	mu           sync.RWMutex
	docs         map[uuid.UUID][]byte
	bySubmission map[string]uuid.UUID
	order        []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:         make(map[uuid.UUID][]byte),
		bySubmission: make(map[string]uuid.UUID),
	}
}

func (m *MemoryStore) CreateLedger(_ context.Context, ledger *models.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySubmission[ledger.SubmissionID]; exists {
		return ErrDuplicate
	}
	if _, exists := m.docs[ledger.ID]; exists {
		return ErrDuplicate
	}
	ledger.Version = 1
	doc, err := json.Marshal(ledger)
	if err != nil {
		ledger.Version = 0
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	m.docs[ledger.ID] = doc
	m.bySubmission[ledger.SubmissionID] = ledger.ID
	m.order = append(m.order, ledger.ID)
	return nil
}

func (m *MemoryStore) GetLedger(_ context.Context, id uuid.UUID) (*models.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load(id)
}

func (m *MemoryStore) GetLedgerBySubmission(_ context.Context, submissionID string) (*models.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.bySubmission[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.load(id)
}

func (m *MemoryStore) GetLedgersByBorrower(_ context.Context, borrowerID string) ([]*models.Ledger, error) {
	return m.filter(func(l *models.Ledger) bool { return l.BorrowerID == borrowerID })
}

func (m *MemoryStore) GetLedgersByStatus(_ context.Context, statuses ...models.LedgerStatus) ([]*models.Ledger, error) {
	want := make(map[models.LedgerStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return m.filter(func(l *models.Ledger) bool { return want[l.Status] })
}

func (m *MemoryStore) UpdateLedger(_ context.Context, ledger *models.Ledger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.load(ledger.ID)
	if err != nil {
		return err
	}
	if current.Version != ledger.Version {
		return ErrVersionConflict
	}
	ledger.Version++
	doc, err := json.Marshal(ledger)
	if err != nil {
		ledger.Version--
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	m.docs[ledger.ID] = doc
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) load(id uuid.UUID) (*models.Ledger, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeLedger(string(doc))
}

func (m *MemoryStore) filter(keep func(*models.Ledger) bool) ([]*models.Ledger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Ledger
	for _, id := range m.order {
		ledger, err := m.load(id)
		if err != nil {
			return nil, err
		}
		if keep(ledger) {
			out = append(out, ledger)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
