package relational

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"quoteflow/config"
	"quoteflow/logger"
	"quoteflow/models"
)

// GormStore is the postgres/mysql backend.
type GormStore struct {
	db  *gorm.DB
	log *logger.Entry
}

func NewGormStore(ctx context.Context, cfg config.RelationalConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	log := logger.GetLogger().WithComponent("relational_store").WithFields(logger.Fields{"driver": cfg.Driver})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log, 500*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connected")
	return &GormStore{db: db, log: log}, nil
}

// EnsureSyncStatus creates or migrates the sync status table.
func (s *GormStore) EnsureSyncStatus(ctx context.Context, table string) error {
	if err := s.db.WithContext(ctx).Table(table).AutoMigrate(&SyncStatus{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	return nil
}

// EnsureTable migrates a routed table from the schema of class and adds the
// unique index ON CONFLICT needs on conflictKeys.
func (s *GormStore) EnsureTable(ctx context.Context, table string, class models.DataClassification, conflictKeys []string) error {
	schema := TableSchema(class)
	if schema == nil {
		return fmt.Errorf("no table schema for %s", class)
	}
	db := s.db.WithContext(ctx)
	if err := db.Table(table).AutoMigrate(schema); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", table, err)
	}
	if len(conflictKeys) == 0 {
		return nil
	}

	name := conflictIndexName(table, conflictKeys)
	if db.Migrator().HasIndex(table, name) {
		return nil
	}
	cols := make([]string, len(conflictKeys))
	for i, k := range conflictKeys {
		cols[i] = db.Statement.Quote(k)
	}
	stmt := fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", db.Statement.Quote(name), db.Statement.Quote(table), strings.Join(cols, ", "))
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to index %s on %v: %w", table, conflictKeys, err)
	}
	s.log.WithFields(logger.Fields{"table": table, "index": name}).Info("conflict index created")
	return nil
}

func (s *GormStore) Upsert(ctx context.Context, table string, rows []models.Row, conflictKeys []string) (int64, error) {
	return upsertGorm(s.db.WithContext(ctx), table, rows, conflictKeys)
}

// Execute runs fn inside a gorm transaction.
func (s *GormStore) Execute(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, gormTx{db: db})
	})
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db *gorm.DB
}

func (t gormTx) Upsert(ctx context.Context, table string, rows []models.Row, conflictKeys []string) (int64, error) {
	return upsertGorm(t.db.WithContext(ctx), table, rows, conflictKeys)
}

func upsertGorm(db *gorm.DB, table string, rows []models.Row, conflictKeys []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := checkUpsert(table, rows, conflictKeys); err != nil {
		return 0, err
	}

	records := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		records[i] = map[string]interface{}(r)
	}
	res := db.Table(table).Clauses(upsertClause(columns(rows), conflictKeys)).Create(&records)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to upsert into %s: %w", table, res.Error)
	}
	return res.RowsAffected, nil
}

func upsertClause(cols, conflictKeys []string) clause.OnConflict {
	keySet := make(map[string]struct{}, len(conflictKeys))
	keyCols := make([]clause.Column, len(conflictKeys))
	for i, k := range conflictKeys {
		keySet[k] = struct{}{}
		keyCols[i] = clause.Column{Name: k}
	}
	var update []string
	for _, c := range cols {
		if _, isKey := keySet[c]; !isKey {
			update = append(update, c)
		}
	}
	if len(update) == 0 {
		return clause.OnConflict{Columns: keyCols, DoNothing: true}
	}
	return clause.OnConflict{Columns: keyCols, DoUpdates: clause.AssignmentColumns(update)}
}

// gormLogger routes gorm's logs through logrus.
type gormLogger struct {
	log           *logger.Entry
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

func newGormLogger(log *logger.Entry, slow time.Duration) *gormLogger {
	return &gormLogger{log: log.WithComponent("gorm"), slowThreshold: slow, level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log.WithError(err).WithFields(logger.Fields{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()}).Error("query failed")
	case elapsed > l.slowThreshold && l.slowThreshold > 0 && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()}).Warn("slow query")
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.WithFields(logger.Fields{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()}).Debug("query")
	}
}
