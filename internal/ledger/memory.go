package ledger

import (
	"context"
	"sync"

	"github.com/org/trustledger/pkg/models"
)

// MemoryStore is an in-memory Store. It backs the server's dev mode and
// the package tests; entries survive only for the process lifetime.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
	byID    map[string]*models.AuditEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*models.AuditEntry{}}
}

func (m *MemoryStore) Append(_ context.Context, entry *models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Store a copy so callers cannot mutate persisted state through the
	// returned entry.
	cp := *entry
	m.entries = append(m.entries, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) Last(_ context.Context) (*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return nil, ErrNotFound
	}
	cp := *m.entries[len(m.entries)-1]
	return &cp, nil
}

func (m *MemoryStore) Iterate(_ context.Context, fn func(*models.AuditEntry) error) error {
	m.mu.RLock()
	snapshot := make([]*models.AuditEntry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()

	for _, e := range snapshot {
		cp := *e
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.entries)), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Tamper overwrites a stored entry in place, bypassing the chain. Test
// hook for exercising verification failure paths.
func (m *MemoryStore) Tamper(index int, mutate func(*models.AuditEntry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index >= 0 && index < len(m.entries) {
		mutate(m.entries[index])
	}
}
