package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"cmsquery/internal/config"
)

func TestReportValidation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	warnOnly := &config.ValidationResult{
		Warnings: []config.ValidationWarning{{Field: "schema.watch", Message: "ignored for database source"}},
	}
	if err := reportValidation(logger, warnOnly); err != nil {
		t.Fatalf("warnings alone should not fail: %v", err)
	}
	if !strings.Contains(buf.String(), "schema.watch") {
		t.Fatalf("expected warning to be logged, got %q", buf.String())
	}

	buf.Reset()
	withErrors := &config.ValidationResult{
		Errors: []config.ValidationError{
			{Field: "database.driver", Message: "unsupported"},
			{Field: "server.port", Message: "out of range"},
		},
	}
	err := reportValidation(logger, withErrors)
	if err == nil {
		t.Fatalf("expected validation failure")
	}
	if !strings.Contains(err.Error(), "2 error(s)") {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, field := range []string{"database.driver", "server.port"} {
		if !strings.Contains(buf.String(), field) {
			t.Fatalf("expected %s to be logged, got %q", field, buf.String())
		}
	}
}
