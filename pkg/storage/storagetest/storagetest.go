// Package storagetest provides database fixtures for store tests.
package storagetest

import (
	"context"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

// NewSQLite returns a migrated in-memory SQLite database closed at test cleanup.
func NewSQLite(t testing.TB) *storage.DB {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return db
}

// NewMock returns a postgres-dialect DB backed by sqlmock.
func NewMock(t testing.TB) (*storage.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	return storage.NewDB(mockDB, storage.DialectPostgres), mock
}

// RequirePostgres connects to TEST_POSTGRES_PRIMARY and migrates it, or skips the test.
func RequirePostgres(t testing.TB) *storage.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}

	cm, err := postgres.NewConnectionManager(context.Background(), postgres.ConnectionConfig{URL: dbURL, MaxConns: 5, MinConns: 1})
	if err != nil {
		t.Skipf("Database not reachable: %v", err)
	}
	t.Cleanup(func() { cm.Close() })

	if err := storage.Migrate(context.Background(), cm.DB()); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}
	return cm.DB()
}
