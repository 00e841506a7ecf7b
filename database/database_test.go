package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mindscreen/models"
)

func TestSQLiteTarget(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		dsn  string
		want string
	}{
		{"memory", MemoryDSN, "file::memory:?cache=shared&_foreign_keys=on&_busy_timeout=5000"},
		{"empty", "", "file::memory:?cache=shared&_foreign_keys=on&_busy_timeout=5000"},
		{"file", filepath.Join(dir, "a.db"), filepath.Join(dir, "a.db") + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000"},
		{"explicit options", filepath.Join(dir, "b.db") + "?_journal_mode=DELETE", filepath.Join(dir, "b.db") + "?_journal_mode=DELETE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sqliteTarget(tt.dsn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSQLiteTarget_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := sqliteTarget(filepath.Join(dir, "mindscreen.db"))
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	_, err = sqliteTarget(filepath.Join(blocker, "mindscreen.db"))
	assert.Error(t, err, "a file in place of the directory")
}

func TestOpenAndMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "data", "mindscreen.db")

	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { Close(db) })

	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.StorageRecord{}))
	require.NoError(t, Migrate(db), "migrating twice is harmless")

	var mode string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&mode).Error)
	assert.Equal(t, "wal", mode)

	_, err = os.Stat(dsn)
	assert.NoError(t, err, "database file exists")
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open(MemoryDSN)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	assert.True(t, db.Migrator().HasTable(&models.StorageRecord{}))

	require.NoError(t, Close(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Error(t, sqlDB.Ping(), "closed pool")
}
