// Package sqlutil provides SQL dialect helpers.
package sqlutil

import (
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the per-database differences the query compiler cares
// about: identifier quoting, placeholder style and how bound values are
// rendered.
type Dialect struct {
	Name        string
	quote       byte
	Placeholder sq.PlaceholderFormat
	// timeLayout, when set, renders time arguments as UTC text so they
	// compare equal to datetimes stored as text.
	timeLayout  string
}

// SQLiteTimeLayout is the text form SQLite datetime columns are compared in.
const SQLiteTimeLayout = "2006-01-02 15:04:05.999999999"

var (
	MySQL    = Dialect{Name: "mysql", quote: '`', Placeholder: sq.Question}
	Postgres = Dialect{Name: "postgres", quote: '"', Placeholder: sq.Dollar}
	SQLite   = Dialect{Name: "sqlite", quote: '"', Placeholder: sq.Question, timeLayout: SQLiteTimeLayout}
)

// DialectFor maps a configured database type to its dialect.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql", "tidb", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database type %q", name)
	}
}

// Quote quotes a SQL identifier (table name, column name, alias) and
// escapes any embedded quote characters.
func (d Dialect) Quote(name string) string {
	q := string(d.quote)
	if d.quote == 0 {
		q = `"`
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// Column renders a qualified column reference.
func (d Dialect) Column(table, column string) string {
	return d.Quote(table) + "." + d.Quote(column)
}

// Rebind converts a query built with '?' placeholders to the dialect's format.
func (d Dialect) Rebind(query string) (string, error) {
	if d.Placeholder == nil {
		return query, nil
	}
	return d.Placeholder.ReplacePlaceholders(query)
}

// Arg converts a bound value to the form the database compares it in.
// SQLite keeps datetimes as text, and mattn/go-sqlite3 would otherwise send
// a time.Time with a zone suffix that never equals the stored value.
func (d Dialect) Arg(v any) any {
	if d.timeLayout == "" {
		return v
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(d.timeLayout)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(d.timeLayout)
	}
	return v
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
