// Package dbexec provides database query execution abstractions.
// Queries arrive as squirrel Sqlizers and rows come back as string-keyed maps.
package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"

	"cmsquery/internal/logging"
)

// Rows abstracts sql.Rows so tests and wrappers can stand in for a driver.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

// Executor runs compiled queries and scans their rows.
type Executor struct {
	q QueryExecutor
}

// NewExecutor wraps a QueryExecutor.
func NewExecutor(q QueryExecutor) *Executor {
	return &Executor{q: q}
}

// RunMany returns every row produced by query.
func (e *Executor) RunMany(ctx context.Context, query sq.Sqlizer) ([]map[string]any, error) {
	rows, err := e.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return ScanRows(rows)
}

// RunSingle returns the first row, or nil when there is none.
func (e *Executor) RunSingle(ctx context.Context, query sq.Sqlizer) (map[string]any, error) {
	records, err := e.RunMany(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// RunCount scans the single integer produced by a count query.
func (e *Executor) RunCount(ctx context.Context, query sq.Sqlizer) (int64, error) {
	rows, err := e.query(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int64
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("count query returned no rows")
	}
	if err := rows.Scan(&count); err != nil {
		return 0, fmt.Errorf("scan count: %w", err)
	}
	return count, rows.Err()
}

func (e *Executor) query(ctx context.Context, query sq.Sqlizer) (Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sqlText, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql: %w", err)
	}
	logging.FromContext(ctx).Debug("executing query",
		slog.String("sql", sqlText),
		slog.Int("args", len(args)),
	)
	rows, err := e.q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return rows, nil
}

// ScanRows reads all rows into maps keyed by column name.
func ScanRows(rows Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = convertValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func convertValue(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
