// Package storage keeps import session state in memory. It backs the CLI
// when no database is configured.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dharsanguruparan/ArchiveDrop/internal/model"
)

// ErrNotFound is returned when no import has been recorded.
var ErrNotFound = errors.New("import not found")

// MemoryStore provides an in-memory session store using RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	imports map[string]*model.ImportState
	latest  string
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		imports: make(map[string]*model.ImportState),
	}
}

// SaveImport inserts or replaces a record and makes it the latest one.
func (m *MemoryStore) SaveImport(_ context.Context, state model.ImportState) error {
	if state.ID == "" {
		return errors.New("import state without id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := m.imports[state.ID]; ok {
		state.CreatedAt = prev.CreatedAt
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	m.imports[state.ID] = &state
	m.latest = state.ID
	return nil
}

// UpdateStatus changes the status of a recorded import.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status model.ImportStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.imports[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// LastImport returns a copy of the most recently saved import.
func (m *MemoryStore) LastImport(_ context.Context) (model.ImportState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.imports[m.latest]
	if !ok {
		return model.ImportState{}, ErrNotFound
	}
	return *rec, nil
}
