package sqlite

import (
	"context"
	"database/sql"
	"testing"
)

// OpenTestDB returns a migrated in-memory database that is closed with
// the test.
func OpenTestDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
