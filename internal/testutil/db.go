package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/vrsandeep/citefetch/internal/assets"
	"github.com/vrsandeep/citefetch/internal/db"
)

// SetupTestDB creates a SQLite database in a per-test temp directory and
// applies all migrations. It returns the database connection, ready for use
// in tests.
//
// A file is used instead of ":memory:" because database/sql opens several
// connections and each in-memory connection would see its own database.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(filepath.Join(t.TempDir(), "citefetch_test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// Attach a cleanup function to automatically close the DB when the test completes.
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, assets.MigrationsFS, nil); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return database
}
