// Package storagetest opens throwaway sqlite databases for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"studentsupport/backend/internal/storage"

	"github.com/stretchr/testify/require"
)

// New returns a migrated gorm store backed by a file in t.TempDir.
func New(t testing.TB) *storage.Service {
	t.Helper()
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "support.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return storage.NewStorageService(db)
}
