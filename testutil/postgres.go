package testutil

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// SetupTestDB opens a connection to the test database, skipping the test
// when TEST_PG_DSN is not set. Schema setup is the caller's job; this
// package stays below the db package in the import graph.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := database.Ping(); err != nil {
		_ = database.Close()
		t.Skipf("test database not reachable: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}
