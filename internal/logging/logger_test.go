package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONWithLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	logger.WithRequestID("req-1").Warn("kept", slog.String("entity", "post"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "post", record["entity"])
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := newMultiHandler(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("k", "v")

	logger.Info("hello")
	assert.Contains(t, a.String(), "hello")
	assert.Contains(t, a.String(), "k=v")
	assert.Empty(t, b.String())
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx))
	assert.Equal(t, "", GetRequestID(ctx))

	logger := NewLogger(Config{Output: &bytes.Buffer{}})
	ctx = WithRequestIDContext(WithLogger(ctx, logger), "abc")
	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "abc", GetRequestID(ctx))
}
