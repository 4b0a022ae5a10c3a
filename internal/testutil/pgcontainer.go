//go:build integration

package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// NewPostgresDB starts a disposable PostgreSQL container, creates the blog
// tables and returns a pgx-backed handle. The container is removed when the
// test ends.
func NewPostgresDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cmsquery"),
		postgres.WithUsername("cmsquery"),
		postgres.WithPassword("cmsquery"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("postgres connection string: %v", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close postgres connection: %v", err)
		}
	})

	for _, stmt := range BlogDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("create blog schema: %v", err)
		}
	}
	return db
}
