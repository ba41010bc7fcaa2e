package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewLogger_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := WithRelease(WithRule(WithRunID(NewLogger(&buf, slog.LevelInfo, ""), "r1"), "ga"), "rhel-10.1")

	logger.Debug("hidden")
	logger.Info("task evaluated")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "task evaluated", rec["msg"])
	assert.Equal(t, "r1", rec["run_id"])
	assert.Equal(t, "ga", rec["rule"])
	assert.Equal(t, "rhel-10.1", rec["release_key"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelWarn, "TEXT").Warn("slow", "n", 3)
	assert.Contains(t, buf.String(), "level=WARN msg=slow n=3")
}

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	logger := slog.New(slog.DiscardHandler)
	assert.Same(t, logger, FromContext(WithLogger(context.Background(), logger)))
}
