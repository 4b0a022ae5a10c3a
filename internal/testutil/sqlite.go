package testutil

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSeq atomic.Int64

// NewSQLiteDB opens a private in-memory SQLite database with the blog tables.
// The database is closed when the test ends.
func NewSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	// A named shared-cache database keeps every pooled connection on the same data.
	dsn := fmt.Sprintf("file:cmsquery_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close sqlite database: %v", err)
		}
	})

	for _, stmt := range BlogDDL {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create blog schema: %v", err)
		}
	}
	return db
}

// MustExec runs a statement and fails the test on error.
func MustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
