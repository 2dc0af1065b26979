package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/platinummonkey/sms/pkg/config"
)

// ErrNotFound is returned by stores when a row does not exist
var ErrNotFound = errors.New("not found")

// Dialect identifies the SQL flavour of the open database
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ForUpdate returns the row-locking suffix for SELECT statements. SQLite
// has no row locks; its writers are serialized by BEGIN IMMEDIATE instead.
func (d Dialect) ForUpdate() string {
	if d == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Querier is implemented by both *DB and *Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	Dialect() Dialect
}

// QueryHook observes every statement executed through DB or Tx
type QueryHook interface {
	AfterQuery(ctx context.Context, query string, duration time.Duration, err error)
}

// DB wraps *sql.DB with the dialect and query hooks
type DB struct {
	*sql.DB
	dialect    Dialect
	sqlitePath string
	hooks      []QueryHook
}

// Open opens and pings the configured database
func Open(ctx context.Context, cfg config.DatabaseSettings, hooks ...QueryHook) (*DB, error) {
	var (
		driver  string
		dsn     string
		dialect Dialect
	)

	switch cfg.Engine {
	case config.EnginePostgres:
		driver, dsn, dialect = "postgres", cfg.URL, DialectPostgres
	case config.EngineSQLite, "":
		driver, dsn, dialect = "sqlite3", SQLiteDSN(cfg.SQLitePath), DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database engine %q", cfg.Engine)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		if cfg.SQLitePath == ":memory:" {
			// each connection would get its own empty database
			sqlDB.SetMaxOpenConns(1)
		} else if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	} else {
		maxConns := cfg.MaxOpenConns
		if maxConns <= 0 {
			maxConns = 20
		}
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 4)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	db := NewDB(sqlDB, dialect, hooks...)
	if dialect == DialectSQLite {
		db.sqlitePath = cfg.SQLitePath
	}
	return db, nil
}

// SQLiteDSN builds a go-sqlite3 DSN with the pragmas the service relies on
func SQLiteDSN(path string) string {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if path == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + path + "?" + params + "&_journal_mode=WAL"
}

// NewDB wraps an already opened database. Tests use it with sqlmock.
func NewDB(sqlDB *sql.DB, dialect Dialect, hooks ...QueryHook) *DB {
	return &DB{DB: sqlDB, dialect: dialect, hooks: hooks}
}

// AddHook registers another query hook. It must be called before the
// database is shared between goroutines.
func (db *DB) AddHook(h QueryHook) {
	db.hooks = append(db.hooks, h)
}

// Dialect implements Querier
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// SQLitePath returns the database file for SQLite databases
func (db *DB) SQLitePath() string {
	return db.sqlitePath
}

// ExecContext implements Querier
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := db.DB.ExecContext(ctx, query, args...)
	db.after(ctx, query, start, err)
	return res, err
}

// QueryContext implements Querier
func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := db.DB.QueryContext(ctx, query, args...)
	db.after(ctx, query, start, err)
	return rows, err
}

// QueryRowContext implements Querier
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := db.DB.QueryRowContext(ctx, query, args...)
	db.after(ctx, query, start, row.Err())
	return row
}

// Begin starts a transaction whose statements are reported to the hooks
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, db: db}, nil
}

func (db *DB) after(ctx context.Context, query string, start time.Time, err error) {
	if len(db.hooks) == 0 {
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	d := time.Since(start)
	for _, h := range db.hooks {
		h.AfterQuery(ctx, query, d, err)
	}
}

// Tx is a database transaction that reports statements to the DB hooks
type Tx struct {
	tx *sql.Tx
	db *DB
}

// Dialect implements Querier
func (t *Tx) Dialect() Dialect {
	return t.db.dialect
}

// ExecContext implements Querier
func (t *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, query, args...)
	t.db.after(ctx, query, start, err)
	return res, err
}

// QueryContext implements Querier
func (t *Tx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.tx.QueryContext(ctx, query, args...)
	t.db.after(ctx, query, start, err)
	return rows, err
}

// QueryRowContext implements Querier
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := time.Now()
	row := t.tx.QueryRowContext(ctx, query, args...)
	t.db.after(ctx, query, start, row.Err())
	return row
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}

// WithTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back when fn returns an error or panics; the panic is
// re-raised after the rollback.
func WithTx(ctx context.Context, db *DB, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique constraint failure
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsMissingTable reports whether err was caused by an absent table. RBAC
// lookups use it to fall back to the legacy role column on databases that
// predate the RBAC tables.
func IsMissingTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	return err != nil && strings.Contains(err.Error(), "no such table")
}
