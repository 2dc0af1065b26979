package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/config"
)

type recordingHook struct {
	mu      sync.Mutex
	queries []string
	errs    []error
}

func (h *recordingHook) AfterQuery(_ context.Context, query string, _ time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, query)
	h.errs = append(h.errs, err)
}

func openMemory(t *testing.T, hooks ...QueryHook) *DB {
	t.Helper()
	db, err := Open(context.Background(), config.DatabaseSettings{
		Engine:     config.EngineSQLite,
		SQLitePath: ":memory:",
	}, hooks...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(context.Background(), `CREATE TABLE items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	)`)
	require.NoError(t, err)
	return db
}

func countItems(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM items").Scan(&n))
	return n
}

func TestOpenUnsupportedEngine(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseSettings{Engine: "oracle"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database engine")
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", SQLiteDSN(":memory:"))
	assert.Equal(t, "file:/data/sms.db?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", SQLiteDSN("/data/sms.db"))
}

func TestDialectForUpdate(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", DialectPostgres.ForUpdate())
	assert.Equal(t, "", DialectSQLite.ForUpdate())
}

func TestWithTxCommits(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	err := WithTx(ctx, db, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO items (name) VALUES ($1)", "a")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countItems(t, db))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithTx(ctx, db, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO items (name) VALUES ($1)", "a"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countItems(t, db))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = WithTx(ctx, db, func(tx *Tx) error {
			_, _ = tx.ExecContext(ctx, "INSERT INTO items (name) VALUES ($1)", "a")
			panic("handler exploded")
		})
	})
	assert.Equal(t, 0, countItems(t, db))
}

func TestHooksObserveStatements(t *testing.T) {
	hook := &recordingHook{}
	db := openMemory(t, hook)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES ($1)", "x")
	require.NoError(t, err)

	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM items WHERE name = $1", "missing").Scan(&name)
	require.Error(t, err)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.queries, 3) // CREATE TABLE, INSERT, SELECT
	assert.Contains(t, hook.queries[1], "INSERT INTO items")
	assert.NoError(t, hook.errs[2], "no rows is not a query failure")
}

func TestIsUniqueViolation(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO items (name) VALUES ($1)", "dup")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO items (name) VALUES ($1)", "dup")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}

func TestIsMissingTable(t *testing.T) {
	db := openMemory(t)
	_, err := db.ExecContext(context.Background(), "SELECT * FROM user_roles")
	assert.True(t, IsMissingTable(err))
	assert.False(t, IsMissingTable(nil))
}

func TestWithTxCommitFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	db := NewDB(sqlDB, DialectPostgres)
	err = WithTx(context.Background(), db, func(tx *Tx) error {
		assert.Equal(t, DialectPostgres, tx.Dialect())
		_, err := tx.ExecContext(context.Background(), "UPDATE users SET is_active = $1", true)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}
