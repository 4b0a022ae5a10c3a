package sqlutil

import (
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{MySQL, "posts", "`posts`"},
		{MySQL, "select", "`select`"},       // reserved word
		{MySQL, "user`data", "`user``data`"}, // backtick in name
		{Postgres, "posts", `"posts"`},
		{Postgres, `a"b`, `"a""b"`},
		{SQLite, "first name", `"first name"`},
		{Postgres, "", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name+"/"+tt.input, func(t *testing.T) {
			result := tt.dialect.Quote(tt.input)
			if result != tt.expected {
				t.Errorf("Quote(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestColumn(t *testing.T) {
	if got := Postgres.Column("__author", "name"); got != `"__author"."name"` {
		t.Errorf("Column() = %q", got)
	}
}

func TestRebind(t *testing.T) {
	got, err := Postgres.Rebind("SELECT * FROM posts WHERE id = ? AND title = ?")
	if err != nil {
		t.Fatalf("Rebind error: %v", err)
	}
	if got != "SELECT * FROM posts WHERE id = $1 AND title = $2" {
		t.Errorf("Rebind() = %q", got)
	}
	got, _ = MySQL.Rebind("SELECT ?")
	if got != "SELECT ?" {
		t.Errorf("Rebind() = %q", got)
	}
}

func TestDialectFor(t *testing.T) {
	for name, want := range map[string]string{"tidb": "mysql", "PostgreSQL": "postgres", "sqlite3": "sqlite"} {
		d, err := DialectFor(name)
		if err != nil {
			t.Fatalf("DialectFor(%q) error: %v", name, err)
		}
		if d.Name != want {
			t.Errorf("DialectFor(%q) = %q, want %q", name, d.Name, want)
		}
	}
	if _, err := DialectFor("oracle"); err == nil {
		t.Error("expected error for unsupported database")
	}
}

func TestArg(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	at := time.Date(2024, 3, 4, 11, 0, 0, 0, berlin)

	if got := SQLite.Arg(at); got != "2024-03-04 10:00:00" {
		t.Errorf("SQLite.Arg(time) = %v", got)
	}
	frac := time.Date(2024, 3, 4, 10, 0, 0, 500000000, time.UTC)
	if got := SQLite.Arg(frac); got != "2024-03-04 10:00:00.5" {
		t.Errorf("SQLite.Arg(fractional) = %v", got)
	}
	if got := SQLite.Arg(int64(7)); got != int64(7) {
		t.Errorf("SQLite.Arg(int) = %v", got)
	}
	if got := Postgres.Arg(at); got != at {
		t.Errorf("Postgres.Arg(time) = %v, want unchanged", got)
	}
	if got := MySQL.Arg(at); got != at {
		t.Errorf("MySQL.Arg(time) = %v, want unchanged", got)
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "'hello'"},
		{"it's", "'it''s'"},
		{"", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteString(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
