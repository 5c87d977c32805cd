// Package storage provides docdb.Adapter implementations backed by memory,
// flat files, bbolt, SQLite and git.
package storage

import (
	"context"
	"sync"

	"github.com/maruel/persiston/internal/docdb"
)

// MemoryAdapter keeps the dataset in memory. It is mostly useful in tests and
// for ephemeral stores.
type MemoryAdapter struct {
	mu       sync.Mutex
	data     docdb.Dataset
	initial  docdb.Dataset
	writes   int
	failWith error
}

// NewMemoryAdapter returns an adapter whose first Read returns a copy of
// initial (an empty dataset when nil).
func NewMemoryAdapter(initial docdb.Dataset) *MemoryAdapter {
	if initial == nil {
		initial = docdb.Dataset{}
	}
	return &MemoryAdapter{initial: initial.Clone()}
}

// Read implements docdb.Adapter.
func (m *MemoryAdapter) Read(_ context.Context) (docdb.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = m.initial.Clone()
	}
	return m.data.Clone(), nil
}

// Write implements docdb.Adapter.
func (m *MemoryAdapter) Write(_ context.Context, data docdb.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.failWith != nil {
		return m.failWith
	}
	m.data = data.Clone()
	return nil
}

// Writes returns the number of Write calls, failed ones included.
func (m *MemoryAdapter) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Data returns a copy of the last written dataset.
func (m *MemoryAdapter) Data() docdb.Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

// FailWrites makes every following Write return err. nil restores normal
// behavior.
func (m *MemoryAdapter) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}
