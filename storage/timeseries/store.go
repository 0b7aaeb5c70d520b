// Package timeseries is the append-only price series backend. Every
// appended row carries the batch_id of the write that produced it; the
// compensating Delete removes exactly one batch of one symbol.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"quoteflow/config"
	"quoteflow/models"
)

const (
	DriverMemory     = "memory"
	DriverClickHouse = "clickhouse"
	DriverS3         = "s3"
)

// ErrUnboundedDelete guards against a matcher that would remove more
// than one batch.
var ErrUnboundedDelete = errors.New("delete matcher needs symbol and batch id")

// Matcher selects the rows of one write. Rows is the payload that was
// appended; backends that cannot delete by batch use it as the key set.
type Matcher struct {
	Symbol  string
	BatchID string
	Rows    []models.Row
}

func (m Matcher) validate() error {
	if m.Symbol == "" || m.BatchID == "" {
		return ErrUnboundedDelete
	}
	return nil
}

// Store is implemented by every time-series backend. Delete reports how
// many rows it removed.
type Store interface {
	Append(ctx context.Context, table string, rows []models.Row) error
	Delete(ctx context.Context, table string, m Matcher) (int, error)
	Close() error
}

// StampBatch returns copies of rows carrying batchID.
func StampBatch(rows []models.Row, batchID string) []models.Row {
	out := make([]models.Row, len(rows))
	for i, r := range rows {
		c := r.Clone()
		c[models.ColBatchID] = batchID
		out[i] = c
	}
	return out
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.TimeSeriesConfig) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverClickHouse:
		return NewClickHouseStore(ctx, cfg.ClickHouse)
	case DriverS3:
		return NewS3ParquetStore(ctx, cfg.S3)
	}
	return nil, &config.ConfigurationError{Key: "storage.timeseries.driver", Err: fmt.Errorf("unknown driver %q", cfg.Driver)}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkTable(table string) error {
	if !identifier.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}
