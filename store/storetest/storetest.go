// Package storetest opens throwaway sqlite databases for package tests.
package storetest

import (
	"path/filepath"
	"testing"

	"marketsync/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated sqlite database living in the test's temp dir.
// The connection is closed when the test ends.
func NewDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := filepath.Join(tb.TempDir(), "marketsync.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(tb, err)
	require.NoError(tb, models.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(tb, err)
	sqlDB.SetMaxOpenConns(1)
	tb.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// Sever closes the underlying connection pool so every later query fails
func Sever(tb testing.TB, db *gorm.DB) {
	tb.Helper()

	sqlDB, err := db.DB()
	require.NoError(tb, err)
	require.NoError(tb, sqlDB.Close())
}
