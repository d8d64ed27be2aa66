//go:build integration

package store

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// SetupTestDB opens a fresh SQLite file under the test's temp directory and
// runs migrations against it.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()

	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	projectRoot := filepath.Join(dir, "../..")
	migrationsPath := "file://" + filepath.Join(projectRoot, "migrations")

	dbFile := filepath.Join(t.TempDir(), "storefront_test.db")
	db, err := Open(Config{File: dbFile, MigrationsPath: migrationsPath})
	require.NoError(t, err, "failed to open test database")

	err = db.RunMigrations()
	require.NoError(t, err, "failed to run migrations on test database")

	return db
}

// CleanupTestDB closes the test database handle. Nothing to truncate between
// tests: each test gets its own file under t.TempDir(), which the testing
// framework removes.
func CleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	db.Close()
}
