package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
)

// RejectedRecord is a record the sink refused while the rest of its batch
// was written.
type RejectedRecord struct {
	Record *models.HarvestedRecord
	Reason error
}

// RecordSink stores batches of harvested records.
//
// BatchWrite returns the records it refused individually. A non-nil error
// means the batch as a whole failed.
type RecordSink interface {
	BatchWrite(ctx context.Context, records []*models.HarvestedRecord) ([]RejectedRecord, error)
}

// RecordStore is a sink that can also be queried and closed
type RecordStore interface {
	RecordSink
	Count(ctx context.Context, baseURL string) (int64, error)
	Get(ctx context.Context, key models.RecordKey) (*models.HarvestedRecord, error)
	Close() error
}

// ErrRecordNotFound is returned by Get for an unknown key
var ErrRecordNotFound = errors.New("record not found")

// Dialect abstracts the SQL differences between the supported drivers
type Dialect struct {
	Driver      string
	blobType    string
	timeType    string
	placeholder func(n int) string
}

var (
	// SQLiteDialect writes to a local SQLite database
	SQLiteDialect = Dialect{
		Driver:      "sqlite3",
		blobType:    "BLOB",
		timeType:    "TIMESTAMP",
		placeholder: func(int) string { return "?" },
	}
	// PostgresDialect writes to PostgreSQL
	PostgresDialect = Dialect{
		Driver:      "postgres",
		blobType:    "BYTEA",
		timeType:    "TIMESTAMPTZ",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

// DialectFor returns the dialect of a driver name
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case SQLiteDialect.Driver:
		return SQLiteDialect, nil
	case PostgresDialect.Driver:
		return PostgresDialect, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sink driver %q", driver)
	}
}

var recordColumns = []string{"base_url", "identifier", "sets", "datestamp", "xml", "checksum", "status", "harvested_at"}

// SQLRecordSink upserts records keyed by (base_url, identifier).
//
// Each batch runs in one transaction. Every record gets its own savepoint so
// a record the database refuses is rolled back alone and reported, while
// the rest of the batch commits.
type SQLRecordSink struct {
	db        *sql.DB
	dialect   Dialect
	table     string
	upsertSQL string
	logger    *lib.Logger
}

// NewSQLRecordSink wraps an open database handle
func NewSQLRecordSink(db *sql.DB, dialect Dialect, table string, logger *lib.Logger) *SQLRecordSink {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	s := &SQLRecordSink{
		db:      db,
		dialect: dialect,
		table:   table,
		logger:  logger.Named("sink"),
	}
	s.upsertSQL = s.buildUpsert()
	return s
}

func (s *SQLRecordSink) buildUpsert() string {
	placeholders := make([]string, len(recordColumns))
	updates := make([]string, 0, len(recordColumns)-2)
	for i, col := range recordColumns {
		placeholders[i] = s.dialect.placeholder(i + 1)
		if col != "base_url" && col != "identifier" {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (base_url, identifier) DO UPDATE SET %s",
		s.table,
		strings.Join(recordColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// SchemaSQL returns the CREATE TABLE statement for the sink table
func (s *SQLRecordSink) SchemaSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	base_url TEXT NOT NULL,
	identifier TEXT NOT NULL,
	sets TEXT NOT NULL DEFAULT '',
	datestamp TEXT NOT NULL DEFAULT '',
	xml %s NOT NULL,
	checksum %s NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	harvested_at %s NOT NULL,
	PRIMARY KEY (base_url, identifier)
)`, s.table, s.dialect.blobType, s.dialect.blobType, s.dialect.timeType)
}

// EnsureSchema creates the sink table if it does not exist
func (s *SQLRecordSink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.SchemaSQL()); err != nil {
		return errors.Wrapf(err, "failed to create table %s", s.table)
	}
	return nil
}

// BatchWrite upserts a batch in a single transaction
func (s *SQLRecordSink) BatchWrite(ctx context.Context, records []*models.HarvestedRecord) (rejected []RejectedRecord, err error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, lib.ErrSinkWrite(len(records), err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = lib.CombineErrors(err, rbErr)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.upsertSQL)
	if err != nil {
		return nil, lib.ErrSinkWrite(len(records), err)
	}
	defer func() { _ = stmt.Close() }()

	for i, rec := range records {
		if verr := rec.Validate(); verr != nil {
			rejected = append(rejected, RejectedRecord{Record: rec, Reason: verr})
			continue
		}

		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err = tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, lib.ErrSinkWrite(len(records), err)
		}

		if _, execErr := stmt.ExecContext(ctx, s.args(rec)...); execErr != nil {
			rejected = append(rejected, RejectedRecord{Record: rec, Reason: execErr})
			s.logger.Debug("Record refused by database", lib.FieldIdentifier, rec.Identifier, lib.FieldError, execErr)
			if _, err = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
				return nil, lib.ErrSinkWrite(len(records), lib.CombineErrors(execErr, err))
			}
			continue
		}

		if _, err = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return nil, lib.ErrSinkWrite(len(records), err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, lib.ErrSinkWrite(len(records), err)
	}
	return rejected, nil
}

func (s *SQLRecordSink) args(rec *models.HarvestedRecord) []interface{} {
	return []interface{}{
		rec.BaseURL,
		rec.Identifier,
		strings.Join(rec.Sets, "\n"),
		rec.Datestamp,
		rec.XML,
		rec.Checksum,
		rec.Status,
		rec.HarvestedAt.UTC(),
	}
}

// Count returns the number of stored records, optionally for one repository
func (s *SQLRecordSink) Count(ctx context.Context, baseURL string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
	var args []interface{}
	if baseURL != "" {
		query += " WHERE base_url = " + s.dialect.placeholder(1)
		args = append(args, baseURL)
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count records")
	}
	return n, nil
}

// Get loads one stored record
func (s *SQLRecordSink) Get(ctx context.Context, key models.RecordKey) (*models.HarvestedRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE base_url = %s AND identifier = %s",
		strings.Join(recordColumns, ", "), s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))

	var (
		rec  models.HarvestedRecord
		sets string
	)
	err := s.db.QueryRowContext(ctx, query, key.BaseURL, key.Identifier).Scan(
		&rec.BaseURL, &rec.Identifier, &sets, &rec.Datestamp, &rec.XML, &rec.Checksum, &rec.Status, &rec.HarvestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRecordNotFound, "%s %s", key.BaseURL, key.Identifier)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load record")
	}
	if sets != "" {
		rec.Sets = strings.Split(sets, "\n")
	}
	return &rec, nil
}

// Close closes the database handle
func (s *SQLRecordSink) Close() error {
	return s.db.Close()
}

// OpenRecordSink opens the sink described by cfg and makes sure its table
// exists. The database is pinged with the retry policy so a postgres server
// that is still starting up does not fail the job.
func OpenRecordSink(ctx context.Context, cfg models.SinkConfig, retry models.RetryConfig, logger *lib.Logger) (RecordStore, error) {
	if logger == nil {
		logger = lib.DefaultLogger
	}
	if cfg.Driver == "memory" {
		return NewMemorySink(), nil
	}

	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, lib.ErrInvalidConfig("sink.driver", err.Error())
	}

	dsn := cfg.DSN
	if dialect.Driver == SQLiteDialect.Driver {
		if dsn, err = prepareSQLitePath(dsn); err != nil {
			return nil, lib.WrapError(lib.CategoryFileSystem, "Cannot prepare database location", err)
		}
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, lib.WrapError(lib.CategorySink, "Failed to open record database", err)
	}

	pingErr := lib.ExecuteWithRetry(ctx, func() error {
		return db.PingContext(ctx)
	}, lib.NewRetryConfigFromModel(retry), lib.IsNetworkError)
	if pingErr != nil {
		_ = db.Close()
		return nil, lib.WrapError(lib.CategorySink, "Record database is not reachable", pingErr,
			"Check the sink.dsn setting", "Make sure the database server is running")
	}

	if dialect.Driver == SQLiteDialect.Driver {
		// database/sql pools connections; sqlite allows one writer at a time.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				logger.Warn("Failed to apply sqlite pragma", "pragma", pragma, lib.FieldError, err)
			}
		}
	}

	sink := NewSQLRecordSink(db, dialect, cfg.Table, logger)
	if err := sink.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, lib.WrapError(lib.CategorySink, "Failed to prepare record table", err)
	}

	logger.Info("Record sink ready", "driver", dialect.Driver, "table", cfg.Table)
	return sink, nil
}

func prepareSQLitePath(dsn string) (string, error) {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	path, err := ExpandPath(dsn)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	return path, nil
}

// MemorySink keeps records in memory. It backs --dry-run and tests.
type MemorySink struct {
	mu         sync.Mutex
	records    map[models.RecordKey]*models.HarvestedRecord
	batchSizes []int
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[models.RecordKey]*models.HarvestedRecord)}
}

// BatchWrite stores copies of the records, rejecting invalid ones
func (m *MemorySink) BatchWrite(_ context.Context, records []*models.HarvestedRecord) ([]RejectedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rejected []RejectedRecord
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			rejected = append(rejected, RejectedRecord{Record: rec, Reason: err})
			continue
		}
		stored := *rec
		m.records[rec.Key()] = &stored
	}
	m.batchSizes = append(m.batchSizes, len(records))
	return rejected, nil
}

// Count returns the number of stored records, optionally for one repository
func (m *MemorySink) Count(_ context.Context, baseURL string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if baseURL == "" {
		return int64(len(m.records)), nil
	}
	var n int64
	for key := range m.records {
		if key.BaseURL == baseURL {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of a stored record
func (m *MemorySink) Get(_ context.Context, key models.RecordKey) (*models.HarvestedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, errors.Wrapf(ErrRecordNotFound, "%s %s", key.BaseURL, key.Identifier)
	}
	out := *rec
	return &out, nil
}

// Keys returns the stored keys sorted by base URL and identifier
func (m *MemorySink) Keys() []models.RecordKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]models.RecordKey, 0, len(m.records))
	for key := range m.records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BaseURL != keys[j].BaseURL {
			return keys[i].BaseURL < keys[j].BaseURL
		}
		return keys[i].Identifier < keys[j].Identifier
	})
	return keys
}

// BatchSizes returns the size of every batch written so far
func (m *MemorySink) BatchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.batchSizes...)
}

// Close is a no-op
func (m *MemorySink) Close() error {
	return nil
}

var _ RecordStore = (*SQLRecordSink)(nil)
var _ RecordStore = (*MemorySink)(nil)

