package db_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/citefetch/internal/assets"
	"github.com/vrsandeep/citefetch/internal/db"
	"github.com/vrsandeep/citefetch/internal/testutil"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", db.DSN("a.db"))
	assert.Equal(t, "a.db?cache=shared&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=on", db.DSN("a.db?cache=shared"))
}

func TestInitDBUsesWAL(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	defer database.Close()

	var mode string
	require.NoError(t, database.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, database.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestMigrationsCreateSchema(t *testing.T) {
	database := testutil.SetupTestDB(t)

	for _, table := range []string{"queue", "download_log"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
	}

	for _, index := range []string{
		"idx_queue_status_priority",
		"idx_queue_active_url",
		"idx_download_log_status_retry",
		"idx_download_log_started_at",
		"idx_download_log_claim",
		"idx_download_log_project",
	} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		require.NoError(t, err, index)
	}
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	require.NoError(t, db.RunMigrations(database, assets.MigrationsFS, nil))
}

func TestActiveURLIndexRejectsSecondActiveRow(t *testing.T) {
	database := testutil.SetupTestDB(t)

	insert := `INSERT INTO queue (url, normalized_url, status, created_at, updated_at)
		VALUES (?, ?, ?, datetime('now'), datetime('now'))`
	_, err := database.Exec(insert, "https://a.org/x", "https://a.org/x", "pending")
	require.NoError(t, err)
	_, err = database.Exec(insert, "https://a.org/x", "https://a.org/x", "in_progress")
	assert.Error(t, err)

	// Terminal rows do not count against the active index.
	_, err = database.Exec(insert, "https://a.org/x", "https://a.org/x", "completed")
	assert.NoError(t, err)
}
