package mqttv3

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevelNone, "NONE"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()

	logger.Debug("debug", LogFields{"k": "v"})
	logger.Error("error", nil)

	assert.Same(t, logger, logger.WithFields(LogFields{"k": "v"}))
	assert.Equal(t, LogLevelNone, logger.Level())

	logger.SetLevel(LogLevelDebug)
	assert.Equal(t, LogLevelDebug, logger.Level())
}

func TestStdLoggerLevels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{LogLevelDebug, []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"}},
		{LogLevelInfo, []string{"[INFO]", "[WARN]", "[ERROR]"}},
		{LogLevelWarn, []string{"[WARN]", "[ERROR]"}},
		{LogLevelError, []string{"[ERROR]"}},
		{LogLevelNone, nil},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewStdLogger(&buf, tt.level)

			logger.Debug("d", nil)
			logger.Info("i", nil)
			logger.Warn("w", nil)
			logger.Error("e", nil)

			out := buf.String()
			for _, prefix := range []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]"} {
				if slices.Contains(tt.want, prefix) {
					assert.Contains(t, out, prefix)
				} else {
					assert.NotContains(t, out, prefix)
				}
			}
		})
	}
}

func TestStdLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewStdLogger(&buf, LogLevelDebug)

	child := base.WithFields(LogFields{LogFieldClientID: "sensor-1"})
	child.Info("connected", LogFields{LogFieldRemoteAddr: "tcp://broker:1883"})

	out := buf.String()
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "client_id=sensor-1")
	assert.Contains(t, out, "remote_addr=tcp://broker:1883")

	buf.Reset()
	base.Info("plain", nil)
	assert.NotContains(t, buf.String(), "client_id", "parent keeps its own fields")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), "[INFO] plain"))
}

func TestSlogLogger(t *testing.T) {
	newLogger := func(level LogLevel) (*SlogLogger, *bytes.Buffer) {
		var buf bytes.Buffer
		handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		return NewSlogLogger(slog.New(handler), level), &buf
	}

	decode := func(t *testing.T, buf *bytes.Buffer) []map[string]any {
		t.Helper()
		var records []map[string]any
		for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
			if line == "" {
				continue
			}
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			records = append(records, rec)
		}
		return records
	}

	t.Run("fields become attributes", func(t *testing.T) {
		logger, buf := newLogger(LogLevelDebug)

		logger.WithFields(LogFields{LogFieldClientID: "c1"}).
			Warn("acknowledgment timeout", LogFields{LogFieldPacketID: uint16(7), LogFieldAttempts: 3})

		records := decode(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "WARN", records[0]["level"])
		assert.Equal(t, "acknowledgment timeout", records[0]["msg"])
		assert.Equal(t, "c1", records[0][LogFieldClientID])
		assert.Equal(t, float64(7), records[0][LogFieldPacketID])
		assert.Equal(t, float64(3), records[0][LogFieldAttempts])
	})

	t.Run("level filters", func(t *testing.T) {
		logger, buf := newLogger(LogLevelWarn)

		logger.Debug("d", nil)
		logger.Info("i", nil)
		logger.Warn("w", nil)
		logger.Error("e", nil)

		records := decode(t, buf)
		require.Len(t, records, 2)
		assert.Equal(t, "w", records[0]["msg"])
		assert.Equal(t, "e", records[1]["msg"])
	})

	t.Run("level is shared with children", func(t *testing.T) {
		logger, buf := newLogger(LogLevelError)
		child := logger.WithFields(LogFields{"k": "v"})

		logger.SetLevel(LogLevelDebug)
		child.Debug("now visible", nil)

		assert.Len(t, decode(t, buf), 1)
	})

	t.Run("level round trip", func(t *testing.T) {
		logger, _ := newLogger(LogLevelDebug)
		for _, level := range []LogLevel{LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelNone} {
			logger.SetLevel(level)
			assert.Equal(t, level, logger.Level())
		}
	})

	t.Run("none silences everything", func(t *testing.T) {
		logger, buf := newLogger(LogLevelNone)
		logger.Error("hidden", nil)
		assert.Zero(t, buf.Len())
	})

	t.Run("nil logger uses default", func(t *testing.T) {
		assert.NotNil(t, NewSlogLogger(nil, LogLevelInfo))
	})
}

func TestLoggerImplementations(t *testing.T) {
	var _ Logger = NewNoOpLogger()
	var _ Logger = NewStdLogger(nil, LogLevelDebug)
	var _ Logger = NewSlogLogger(nil, LogLevelDebug)
}
