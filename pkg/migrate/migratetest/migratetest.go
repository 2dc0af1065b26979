// Package migratetest opens fully migrated in-memory databases for tests.
package migratetest

import (
	"context"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sms/pkg/config"
	"github.com/platinummonkey/sms/pkg/migrate"
	"github.com/platinummonkey/sms/pkg/storage"
)

// NewDB returns an in-memory SQLite database at head. It is closed when
// the test finishes.
func NewDB(t testing.TB, hooks ...storage.QueryHook) *storage.DB {
	t.Helper()

	db, err := storage.Open(context.Background(), config.DatabaseSettings{
		Engine:     config.EngineSQLite,
		SQLitePath: ":memory:",
	}, hooks...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := logtest.NewNullLogger()
	runner, err := migrate.New(db, logger)
	require.NoError(t, err)
	require.NoError(t, runner.Upgrade(context.Background(), "head"))
	return db
}

// NewBareDB returns an in-memory SQLite database without any schema
func NewBareDB(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.Open(context.Background(), config.DatabaseSettings{
		Engine:     config.EngineSQLite,
		SQLitePath: ":memory:",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
