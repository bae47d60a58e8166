package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("creates text logger", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelInfo, Format: LogFormatText, Output: &buf})
		require.NotNil(t, logger)

		logger.Info("test message", "key", "value")

		assert.Contains(t, buf.String(), "test message")
		assert.Contains(t, buf.String(), "key=value")
	})

	t.Run("creates JSON logger with service attributes", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{
			Level:          LogLevelInfo,
			Format:         LogFormatJSON,
			Output:         &buf,
			ServiceName:    ServiceName,
			ServiceVersion: "1.0.0",
		})

		logger.Info("test message", "key", "value")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "test message", entry["msg"])
		assert.Equal(t, "value", entry["key"])
		assert.Equal(t, "carepath", entry["service"])
		assert.Equal(t, "1.0.0", entry["version"])
	})

	t.Run("respects log level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelWarn, Format: LogFormatText, Output: &buf})

		logger.Info("info message")
		logger.Warn("warn message")

		assert.NotContains(t, buf.String(), "info message")
		assert.Contains(t, buf.String(), "warn message")
	})

	t.Run("adds ids from context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(LogConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: &buf})

		ctx := WithCorrelationID(context.Background(), "evt_123")
		ctx = WithRequestID(ctx, "req-456")
		logger.With("handler", "invoice").InfoContext(ctx, "handled")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "evt_123", entry[CorrelationIDKey])
		assert.Equal(t, "req-456", entry[RequestIDKey])
		assert.Equal(t, "invoice", entry["handler"])
	})
}

func TestLogConfigFor(t *testing.T) {
	t.Run("development defaults", func(t *testing.T) {
		cfg := LogConfigFor("development", "", "")
		assert.Equal(t, LogFormatText, cfg.Format)
		assert.Equal(t, LogLevelInfo, cfg.Level)
		assert.Equal(t, "dev", cfg.ServiceVersion)
	})

	t.Run("production uses JSON", func(t *testing.T) {
		cfg := LogConfigFor("production", "debug", "1.2.3")
		assert.Equal(t, LogFormatJSON, cfg.Format)
		assert.Equal(t, LogLevelDebug, cfg.Level)
		assert.True(t, cfg.AddSource)
		assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	})
}

func TestParseSlogLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected slog.Level
	}{
		{LogLevelDebug, slog.LevelDebug},
		{LogLevelInfo, slog.LevelInfo},
		{LogLevelWarn, slog.LevelWarn},
		{LogLevelError, slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, parseSlogLevel(tt.input))
		})
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	assert.NotEmpty(t, CorrelationIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
