package timeseries

import (
	"context"
	"sync"

	"quoteflow/models"
)

// MemoryStore keeps tables in process. It backs the memory driver and
// tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]models.Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]models.Row)}
}

func (s *MemoryStore) Append(_ context.Context, table string, rows []models.Row) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], r.Clone())
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, table string, m Matcher) (int, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tables[table][:0]
	removed := 0
	for _, r := range s.tables[table] {
		if r.String(models.ColSymbol) == m.Symbol && r.String(models.ColBatchID) == m.BatchID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept
	return removed, nil
}

// Rows returns a copy of table.
func (s *MemoryStore) Rows(table string) []models.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Row, len(s.tables[table]))
	for i, r := range s.tables[table] {
		out[i] = r.Clone()
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }
