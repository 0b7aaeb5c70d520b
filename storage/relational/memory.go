package relational

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"quoteflow/models"
)

type memTable map[string]models.Row

// MemoryStore is an in-process relational store with whole-store
// transactions. It backs the memory driver and tests.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]memTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]memTable)}
}

func (s *MemoryStore) Upsert(_ context.Context, table string, rows []models.Row, conflictKeys []string) (int64, error) {
	if err := checkUpsert(table, rows, conflictKeys); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertInto(s.tables, table, rows, conflictKeys), nil
}

func (s *MemoryStore) Execute(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{tables: cloneTables(s.tables)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.tables = tx.tables
	return nil
}

// Rows returns the rows of table ordered by key.
func (s *MemoryStore) Rows(table string) []models.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[table]
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Row, len(keys))
	for i, k := range keys {
		out[i] = t[k].Clone()
	}
	return out
}

func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	tables map[string]memTable
}

func (t *memTx) Upsert(_ context.Context, table string, rows []models.Row, conflictKeys []string) (int64, error) {
	if err := checkUpsert(table, rows, conflictKeys); err != nil {
		return 0, err
	}
	return upsertInto(t.tables, table, rows, conflictKeys), nil
}

func upsertInto(tables map[string]memTable, table string, rows []models.Row, conflictKeys []string) int64 {
	t, ok := tables[table]
	if !ok {
		t = make(memTable)
		tables[table] = t
	}
	for _, r := range rows {
		k := rowKey(r, conflictKeys)
		merged := r.Clone()
		if old, exists := t[k]; exists {
			merged = old.Clone()
			for col, v := range r {
				merged[col] = v
			}
		}
		t[k] = merged
	}
	return int64(len(rows))
}

func rowKey(r models.Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(r[k])
	}
	return strings.Join(parts, "\x1f")
}

func cloneTables(in map[string]memTable) map[string]memTable {
	out := make(map[string]memTable, len(in))
	for name, t := range in {
		c := make(memTable, len(t))
		for k, r := range t {
			c[k] = r.Clone()
		}
		out[name] = c
	}
	return out
}
