package testutil

import (
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/ragkb/internal/config"
	"github.com/xxxsen/ragkb/internal/db"
	"github.com/xxxsen/ragkb/internal/pkg/dbutil"
)

// OpenTestDB connects to the postgres instance named by TEST_DB_HOST and
// skips the test when it is not set.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Driver:   dbutil.DriverPostgres,
		Host:     host,
		Port:     5432,
		User:     "ragkb",
		Password: "ragkb_pass",
		DBName:   "ragkb_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(conn, dbutil.DriverPostgres); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
	}
}

// OpenSQLite returns a migrated in-memory sqlite database closed with the test.
func OpenSQLite(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	if err := db.ApplyMigrations(conn, dbutil.DriverSQLite); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return conn
}
