package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen(t *testing.T) {
	t.Run("opens database successfully", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		// Verify WAL mode enabled
		var journalMode string
		err = db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
		require.NoError(t, err)
		assert.Equal(t, "wal", journalMode)

		// Verify foreign keys enabled
		var foreignKeys int
		err = db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys)
		require.NoError(t, err)
		assert.Equal(t, 1, foreignKeys)

		// Verify busy timeout set
		var busyTimeout int
		err = db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout)
		require.NoError(t, err)
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("creates database file if it doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "new.db")

		_, err := os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err))

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})

	t.Run("operations on closed database fail", func(t *testing.T) {
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, db)

		db.Close()

		_, err = db.Exec("PRAGMA journal_mode")
		require.Error(t, err)
		assert.True(t, IsDatabaseClosed(err), "error should indicate connection is closed")
	})
}

func TestOpen_WithLogger(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	logger := zaptest.NewLogger(t).Sugar()
	db, err := Open(dbPath, logger)
	require.NoError(t, err)
	require.NotNil(t, db)
	defer db.Close()
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(ErrDatabaseClosed))
}
