package services_test

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/oaiharvest/internal/lib"
	"github.com/trobanga/oaiharvest/internal/models"
	"github.com/trobanga/oaiharvest/internal/services"
)

const sqliteUpsert = "INSERT INTO records (base_url, identifier, sets, datestamp, xml, checksum, status, harvested_at) " +
	"VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (base_url, identifier) DO UPDATE SET " +
	"sets = excluded.sets, datestamp = excluded.datestamp, xml = excluded.xml, checksum = excluded.checksum, " +
	"status = excluded.status, harvested_at = excluded.harvested_at"

func testRecord(id string, sets ...string) *models.HarvestedRecord {
	rec := models.NewHarvestedRecord("https://repo.example.org/oai", models.OAIRecord{
		Identifier: id,
		Datestamp:  "2024-01-01",
		SetSpecs:   sets,
		XML:        []byte("<record>" + id + "</record>"),
	})
	rec.HarvestedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return rec
}

func newMockSink(t *testing.T) (*services.SQLRecordSink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return services.NewSQLRecordSink(db, services.SQLiteDialect, "records", lib.NewNopLogger()), mock
}

func anyRecordArgs() []driver.Value {
	args := make([]driver.Value, 8)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

// TestSQLRecordSink_BatchWrite tests the transaction shape of a batch
func TestSQLRecordSink_BatchWrite(t *testing.T) {
	sink, mock := newMockSink(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(sqliteUpsert)
	mock.ExpectExec("SAVEPOINT sp_0").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs(anyRecordArgs()...).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("RELEASE SAVEPOINT sp_0").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs(anyRecordArgs()...).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rejected, err := sink.BatchWrite(context.Background(), []*models.HarvestedRecord{testRecord("a"), testRecord("b")})
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSQLRecordSink_BatchWrite_RecordRefused tests that one refused record does not fail the batch
func TestSQLRecordSink_BatchWrite_RecordRefused(t *testing.T) {
	sink, mock := newMockSink(t)
	invalid := testRecord("")
	refused := testRecord("b")

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(sqliteUpsert)
	// invalid record at index 0 never reaches the database
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs(anyRecordArgs()...).WillReturnError(errors.New("value too long"))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	prep.ExpectExec().WithArgs(anyRecordArgs()...).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("RELEASE SAVEPOINT sp_2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rejected, err := sink.BatchWrite(context.Background(), []*models.HarvestedRecord{invalid, refused, testRecord("c")})
	require.NoError(t, err)
	require.Len(t, rejected, 2)
	assert.Same(t, invalid, rejected[0].Record)
	assert.Same(t, refused, rejected[1].Record)
	assert.EqualError(t, rejected[1].Reason, "value too long")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestSQLRecordSink_BatchWrite_Failure tests batch-level failures
func TestSQLRecordSink_BatchWrite_Failure(t *testing.T) {
	t.Run("begin fails", func(t *testing.T) {
		sink, mock := newMockSink(t)
		mock.ExpectBegin().WillReturnError(errors.New("database is locked"))

		_, err := sink.BatchWrite(context.Background(), []*models.HarvestedRecord{testRecord("a")})
		require.Error(t, err)
		assert.True(t, lib.IsCategory(err, lib.CategorySink))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit fails", func(t *testing.T) {
		sink, mock := newMockSink(t)
		mock.ExpectBegin()
		prep := mock.ExpectPrepare(sqliteUpsert)
		mock.ExpectExec("SAVEPOINT sp_0").WillReturnResult(sqlmock.NewResult(0, 0))
		prep.ExpectExec().WithArgs(anyRecordArgs()...).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("RELEASE SAVEPOINT sp_0").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

		_, err := sink.BatchWrite(context.Background(), []*models.HarvestedRecord{testRecord("a")})
		require.Error(t, err)
		assert.True(t, lib.IsCategory(err, lib.CategorySink))
		assert.Contains(t, err.Error(), "disk I/O error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty batch", func(t *testing.T) {
		sink, mock := newMockSink(t)
		rejected, err := sink.BatchWrite(context.Background(), nil)
		assert.NoError(t, err)
		assert.Nil(t, rejected)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// TestSQLRecordSink_Postgres tests postgres placeholders and column types
func TestSQLRecordSink_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	sink := services.NewSQLRecordSink(db, services.PostgresDialect, "records", nil)
	assert.Contains(t, sink.SchemaSQL(), "xml BYTEA NOT NULL")
	assert.Contains(t, sink.SchemaSQL(), "harvested_at TIMESTAMPTZ NOT NULL")

	mock.ExpectQuery("SELECT COUNT(*) FROM records WHERE base_url = $1").
		WithArgs("https://repo.example.org/oai").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	n, err := sink.Count(context.Background(), "https://repo.example.org/oai")
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestDialectFor tests driver lookup
func TestDialectFor(t *testing.T) {
	d, err := services.DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Driver)

	_, err = services.DialectFor("mysql")
	assert.Error(t, err)
}

// TestSQLRecordSink_SQLite tests upserts against a real sqlite database
func TestSQLRecordSink_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := models.SinkConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "data", "records.db"),
		Table:  "records",
	}
	store, err := services.OpenRecordSink(ctx, cfg, models.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 2}, lib.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	rejected, err := store.BatchWrite(ctx, []*models.HarvestedRecord{testRecord("a", "physics", "math"), testRecord("b")})
	require.NoError(t, err)
	assert.Empty(t, rejected)

	n, err := store.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := store.Get(ctx, models.RecordKey{BaseURL: "https://repo.example.org/oai", Identifier: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"physics", "math"}, got.Sets)
	assert.Equal(t, []byte("<record>a</record>"), got.XML)
	assert.True(t, got.ChecksumValid())
	assert.True(t, got.HarvestedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))

	// Re-harvesting the same identifier replaces the stored record
	updated := testRecord("a")
	updated.SetXML([]byte("<record>a v2</record>"))
	updated.RecomputeChecksum()
	updated.Status = models.StatusDeleted
	_, err = store.BatchWrite(ctx, []*models.HarvestedRecord{updated})
	require.NoError(t, err)

	n, err = store.Count(ctx, "https://repo.example.org/oai")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err = store.Get(ctx, updated.Key())
	require.NoError(t, err)
	assert.Equal(t, []byte("<record>a v2</record>"), got.XML)
	assert.Empty(t, got.Sets)
	assert.True(t, got.IsDeleted())

	_, err = store.Get(ctx, models.RecordKey{BaseURL: "https://repo.example.org/oai", Identifier: "missing"})
	assert.ErrorIs(t, err, services.ErrRecordNotFound)
}

// TestOpenRecordSink_Memory tests the in-memory sink
func TestOpenRecordSink_Memory(t *testing.T) {
	ctx := context.Background()
	store, err := services.OpenRecordSink(ctx, models.SinkConfig{Driver: "memory"}, models.RetryConfig{}, nil)
	require.NoError(t, err)

	mem, ok := store.(*services.MemorySink)
	require.True(t, ok)

	rejected, err := mem.BatchWrite(ctx, []*models.HarvestedRecord{testRecord("b"), testRecord(""), testRecord("a")})
	require.NoError(t, err)
	assert.Len(t, rejected, 1)

	_, err = mem.BatchWrite(ctx, []*models.HarvestedRecord{testRecord("a")})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 1}, mem.BatchSizes())
	assert.Equal(t, []models.RecordKey{
		{BaseURL: "https://repo.example.org/oai", Identifier: "a"},
		{BaseURL: "https://repo.example.org/oai", Identifier: "b"},
	}, mem.Keys())

	n, err := mem.Count(ctx, "https://other.example.org/oai")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = mem.Get(ctx, models.RecordKey{BaseURL: "x", Identifier: "y"})
	assert.True(t, errors.Is(err, services.ErrRecordNotFound))
	assert.NoError(t, mem.Close())
}

// TestOpenRecordSink_UnknownDriver tests driver validation
func TestOpenRecordSink_UnknownDriver(t *testing.T) {
	_, err := services.OpenRecordSink(context.Background(), models.SinkConfig{Driver: "mysql", DSN: "x", Table: "t"}, models.RetryConfig{}, nil)
	require.Error(t, err)
	assert.True(t, lib.IsCategory(err, lib.CategoryConfiguration))
}

// TestSQLRecordSink_SetSpecWithLineBreak tests that a set spec which would not
// survive the newline-joined sets column is rejected instead of stored
func TestSQLRecordSink_SetSpecWithLineBreak(t *testing.T) {
	ctx := context.Background()
	cfg := models.SinkConfig{
		Driver: "sqlite3",
		DSN:    filepath.Join(t.TempDir(), "records.db"),
		Table:  "records",
	}
	store, err := services.OpenRecordSink(ctx, cfg, models.RetryConfig{MaxAttempts: 1, InitialBackoffMs: 1, MaxBackoffMs: 2}, lib.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	bad := testRecord("bad", "physics", "hep\nth")
	rejected, err := store.BatchWrite(ctx, []*models.HarvestedRecord{bad, testRecord("good", "math")})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, "bad", rejected[0].Record.Identifier)

	_, err = store.Get(ctx, bad.Key())
	assert.ErrorIs(t, err, services.ErrRecordNotFound)

	got, err := store.Get(ctx, models.RecordKey{BaseURL: "https://repo.example.org/oai", Identifier: "good"})
	require.NoError(t, err)
	assert.Equal(t, []string{"math"}, got.Sets)
}
