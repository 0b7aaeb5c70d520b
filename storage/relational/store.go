// Package relational is the metadata backend: keyed upserts plus a
// transactional Execute used by the saga metadata step.
package relational

import (
	"context"
	"fmt"
	"sort"
	"time"

	"quoteflow/config"
	"quoteflow/models"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Tx is the write surface available inside Execute.
type Tx interface {
	// Upsert inserts rows, updating non-key columns of rows whose
	// conflictKeys already exist. It returns the rows affected.
	Upsert(ctx context.Context, table string, rows []models.Row, conflictKeys []string) (int64, error)
}

// Store is implemented by every relational backend.
type Store interface {
	Tx
	// Execute runs fn in one transaction. Any error from fn rolls back
	// everything fn wrote.
	Execute(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// SyncStatus is one row of the sync status table: the last committed
// batch per (classification, symbol).
type SyncStatus struct {
	Symbol         string    `gorm:"primaryKey;size:64" json:"symbol"`
	Classification string    `gorm:"primaryKey;size:64" json:"classification"`
	Provider       string    `gorm:"size:64" json:"provider"`
	BatchID        string    `gorm:"size:64" json:"batch_id"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RecordCount    int64     `json:"record_count"`
	SyncedAt       time.Time `json:"synced_at"`
}

// SyncStatusKeys are the conflict keys of the sync status table.
var SyncStatusKeys = []string{"symbol", "classification"}

// Row converts s to the column map Upsert takes.
func (s SyncStatus) Row() models.Row {
	return models.Row{
		"symbol":         s.Symbol,
		"classification": s.Classification,
		"provider":       s.Provider,
		"batch_id":       s.BatchID,
		"last_bar_time":  s.LastBarTime,
		"record_count":   s.RecordCount,
		"synced_at":      s.SyncedAt,
	}
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.RelationalConfig) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres, DriverMySQL:
		return NewGormStore(ctx, cfg)
	}
	return nil, &config.ConfigurationError{Key: "storage.relational.driver", Err: fmt.Errorf("unknown driver %q", cfg.Driver)}
}

// columns returns the union of row keys in sorted order.
func columns(rows []models.Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func checkUpsert(table string, rows []models.Row, conflictKeys []string) error {
	if table == "" {
		return fmt.Errorf("upsert: table is required")
	}
	if len(conflictKeys) == 0 {
		return fmt.Errorf("upsert into %s: conflict keys are required", table)
	}
	for i, r := range rows {
		for _, k := range conflictKeys {
			if v, ok := r[k]; !ok || v == nil {
				return fmt.Errorf("upsert into %s: row %d lacks conflict key %q", table, i, k)
			}
		}
	}
	return nil
}
