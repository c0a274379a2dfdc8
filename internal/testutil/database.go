package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jvmscope/jvmscope/internal/database"
)

// NewTestDatabase opens a DuckDB database in a temporary directory. It is
// closed when the test completes.
func NewTestDatabase(t *testing.T) *database.Database {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.New(ctx, t.TempDir(), "test-instance", NewTestLogger(t))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}
