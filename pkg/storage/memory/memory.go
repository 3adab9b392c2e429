// Package memory provides an in-memory implementation of the run store.
package memory

import (
	"context"
	"sync"

	"github.com/goclaw/pumpcycle/pkg/storage"
)

// MemoryStorage implements storage.RunStore using an in-memory map.
// History is lost on restart.
type MemoryStorage struct {
	mu   sync.RWMutex
	runs map[string]*storage.RunRecord
	max  int
}

// NewMemoryStorage creates a new in-memory store. When maxRuns is positive the
// oldest runs are evicted beyond that count.
func NewMemoryStorage(maxRuns int) *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*storage.RunRecord),
		max:  maxRuns,
	}
}

// SaveRun saves a copy of the run.
func (m *MemoryStorage) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	if err := run.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs[run.ID] = run.Clone()
	m.evictLocked()
	return nil
}

func (m *MemoryStorage) evictLocked() {
	if m.max <= 0 || len(m.runs) <= m.max {
		return
	}
	all := make([]*storage.RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r)
	}
	sorted, _ := storage.Paginate(all, nil)
	for _, r := range sorted[m.max:] {
		delete(m.runs, r.ID)
	}
}

// GetRun retrieves a run by ID.
func (m *MemoryStorage) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, &storage.NotFoundError{EntityType: "run", ID: id}
	}
	return run.Clone(), nil
}

// ListRuns lists runs with optional filtering and pagination.
func (m *MemoryStorage) ListRuns(ctx context.Context, filter *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	m.mu.RLock()
	matched := make([]*storage.RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		if filter.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	m.mu.RUnlock()

	runs, total := storage.Paginate(matched, filter)
	return runs, total, nil
}

// Close is a no-op for in-memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
