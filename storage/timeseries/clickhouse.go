package timeseries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

// ClickHouseStore appends bars with native batches and compensates with a
// synchronous lightweight mutation.
type ClickHouseStore struct {
	conn     driver.Conn
	database string
	log      *logger.Entry
}

func NewClickHouseStore(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseStore, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  dialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	s := &ClickHouseStore{
		conn:     conn,
		database: cfg.Database,
		log:      logger.GetLogger().WithComponent("clickhouse_store"),
	}
	s.log.WithFields(logger.Fields{
		"addr":     cfg.Addr,
		"database": cfg.Database,
	}).Info("clickhouse store connected")
	return s, nil
}

func (s *ClickHouseStore) Append(ctx context.Context, table string, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkTable(table); err != nil {
		return err
	}

	start := time.Now()
	batch, err := s.conn.PrepareBatch(ctx, insertQuery(s.qualified(table)))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(barValues(r)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch to %s: %w", table, err)
	}

	logger.LogPerformanceEntry(s.log, "clickhouse_store", "append", time.Since(start), logger.Fields{
		"table":        table,
		"record_count": len(rows),
	})
	return nil
}

// Delete removes one batch of one symbol. The batch is counted first;
// mutations_sync=2 makes the mutation return only after every replica
// applied it.
func (s *ClickHouseStore) Delete(ctx context.Context, table string, m Matcher) (int, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}
	if err := checkTable(table); err != nil {
		return 0, err
	}
	qualified := s.qualified(table)

	var count uint64
	if err := s.conn.QueryRow(ctx, countQuery(qualified), m.Symbol, m.BatchID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count batch %s in %s: %w", m.BatchID, table, err)
	}
	if count == 0 {
		return 0, nil
	}

	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 2,
	}))
	if err := s.conn.Exec(ctx, deleteQuery(qualified), m.Symbol, m.BatchID); err != nil {
		return 0, fmt.Errorf("failed to delete batch %s from %s: %w", m.BatchID, table, err)
	}
	s.log.WithFields(logger.Fields{
		"table":    table,
		"symbol":   m.Symbol,
		"batch_id": m.BatchID,
		"rows":     count,
	}).Warn("batch deleted")
	return int(count), nil
}

func (s *ClickHouseStore) Close() error { return s.conn.Close() }

func (s *ClickHouseStore) qualified(table string) string {
	if s.database == "" {
		return table
	}
	return s.database + "." + table
}

func insertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(models.BarColumns, ", "))
}

func countQuery(table string) string {
	return fmt.Sprintf("SELECT count() FROM %s WHERE %s = ? AND %s = ?", table, models.ColSymbol, models.ColBatchID)
}

func deleteQuery(table string) string {
	return fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s = ? AND %s = ?", table, models.ColSymbol, models.ColBatchID)
}

// barValues orders r by models.BarColumns.
func barValues(r models.Row) []any {
	ts, _ := r.Time(models.ColTimestamp)
	return []any{
		r.String(models.ColSymbol),
		ts,
		r.String(models.ColPeriod),
		floatCol(r, models.ColOpen),
		floatCol(r, models.ColHigh),
		floatCol(r, models.ColLow),
		floatCol(r, models.ColClose),
		floatCol(r, models.ColVolume),
		floatCol(r, models.ColAmount),
		r.String(models.ColProvider),
		r.String(models.ColBatchID),
	}
}

func floatCol(r models.Row, col string) float64 {
	v, _ := r[col].(float64)
	return v
}
