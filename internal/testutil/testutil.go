// Package testutil provides testing utilities and helpers for htm.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MycelicMemory/htm/internal/store"
)

// TestStore wraps a store.Store backed by a throwaway Postgres+pgvector
// container. The container and connection pool are cleaned up automatically
// when the test completes.
type TestStore struct {
	*store.Store
	DSN string
	t   *testing.T
}

// NewTestStore starts a pgvector/pgvector Postgres container, opens a Store
// against it, and initializes the schema. Intended for integration tests
// gated behind the "integration" build tag.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("htm_test"),
		postgres.WithUsername("htm"),
		postgres.WithPassword("htm"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	st, err := store.Open(ctx, store.Config{DSN: dsn, PoolSize: 5, AcquireTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(st.Close)

	if err := st.InitSchema(ctx); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	return &TestStore{Store: st, DSN: dsn, t: t}
}

// TempDir creates a temporary directory for testing. Automatically cleaned
// up after test completion.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual(t *testing.T, got, want interface{}) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// UniqueName returns a unique name for test fixtures (robot names, group
// names) that must be unique per-test without colliding across parallel
// subtests.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
