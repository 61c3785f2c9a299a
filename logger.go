package mqttv3

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
)

// LogLevel orders log severities. A logger emits a record when the record's
// level is at or above its own.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	// LogLevelNone silences the logger.
	LogLevelNone
)

var logLevelNames = [...]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
	LogLevelNone:  "NONE",
}

func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(logLevelNames) {
		return "UNKNOWN"
	}
	return logLevelNames[l]
}

// enabled reports whether a record at level passes a logger set to l.
func (l LogLevel) enabled(level LogLevel) bool {
	return level < LogLevelNone && level >= l
}

// Field names shared by the client's log records.
const (
	LogFieldClientID   = "client_id"
	LogFieldRemoteAddr = "remote_addr"
	LogFieldTopic      = "topic"
	LogFieldQoS        = "qos"
	LogFieldPacketID   = "packet_id"
	LogFieldPacketType = "packet_type"
	LogFieldReturnCode = "return_code"
	LogFieldState      = "state"
	LogFieldAttempts   = "attempts"
	LogFieldDuration   = "duration"
	LogFieldReason     = "reason"
	LogFieldError      = "error"
)

// LogFields carries structured context for a log record.
type LogFields map[string]any

// merged returns a new map holding f overlaid with extra.
func (f LogFields) merged(extra LogFields) LogFields {
	out := make(LogFields, len(f)+len(extra))
	maps.Copy(out, f)
	maps.Copy(out, extra)
	return out
}

// Logger is the logging sink used by the client. Implementations must be
// safe for concurrent use.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, fields LogFields)

	// WithFields derives a logger that attaches fields to every record.
	WithFields(fields LogFields) Logger

	Level() LogLevel
	SetLevel(level LogLevel)
}

// NoOpLogger discards everything. It is the default when no logger is
// configured.
type NoOpLogger struct {
	level LogLevel
}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{level: LogLevelNone}
}

func (*NoOpLogger) Debug(string, LogFields) {}
func (*NoOpLogger) Info(string, LogFields)  {}
func (*NoOpLogger) Warn(string, LogFields)  {}
func (*NoOpLogger) Error(string, LogFields) {}

func (n *NoOpLogger) WithFields(LogFields) Logger { return n }
func (n *NoOpLogger) Level() LogLevel             { return n.level }
func (n *NoOpLogger) SetLevel(level LogLevel)     { n.level = level }

// StdLogger writes one line per record through a *log.Logger:
//
//	2024/01/02 15:04:05 [INFO] connected client_id=sensor-1 remote_addr=tcp://broker:1883
//
// Fields are printed in key order.
type StdLogger struct {
	out    *log.Logger
	level  LogLevel
	fields LogFields
}

// NewStdLogger logs to w, or to stderr when w is nil.
func NewStdLogger(w io.Writer, level LogLevel) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{out: log.New(w, "", log.LstdFlags), level: level}
}

func (s *StdLogger) Debug(msg string, fields LogFields) { s.write(LogLevelDebug, msg, fields) }
func (s *StdLogger) Info(msg string, fields LogFields)  { s.write(LogLevelInfo, msg, fields) }
func (s *StdLogger) Warn(msg string, fields LogFields)  { s.write(LogLevelWarn, msg, fields) }
func (s *StdLogger) Error(msg string, fields LogFields) { s.write(LogLevelError, msg, fields) }

func (s *StdLogger) WithFields(fields LogFields) Logger {
	return &StdLogger{out: s.out, level: s.level, fields: s.fields.merged(fields)}
}

func (s *StdLogger) Level() LogLevel         { return s.level }
func (s *StdLogger) SetLevel(level LogLevel) { s.level = level }

func (s *StdLogger) write(level LogLevel, msg string, fields LogFields) {
	if !s.level.enabled(level) {
		return
	}

	var line strings.Builder
	fmt.Fprintf(&line, "[%s] %s", level, msg)

	all := s.fields.merged(fields)
	for _, key := range slices.Sorted(maps.Keys(all)) {
		fmt.Fprintf(&line, " %s=%v", key, all[key])
	}
	s.out.Print(line.String())
}

// slogLevelOff sits above every level slog defines, so nothing passes it.
const slogLevelOff = slog.LevelError + 4

var slogLevels = map[LogLevel]slog.Level{
	LogLevelDebug: slog.LevelDebug,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelError: slog.LevelError,
}

// SlogLogger forwards records to a *slog.Logger with fields as attributes.
// Derived loggers share the level of their parent.
type SlogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewSlogLogger wraps logger, falling back to slog.Default when nil.
func NewSlogLogger(logger *slog.Logger, level LogLevel) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SlogLogger{logger: logger, level: new(slog.LevelVar)}
	s.SetLevel(level)
	return s
}

func (s *SlogLogger) Debug(msg string, fields LogFields) { s.emit(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields LogFields)  { s.emit(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields LogFields)  { s.emit(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields LogFields) { s.emit(slog.LevelError, msg, fields) }

func (s *SlogLogger) WithFields(fields LogFields) Logger {
	return &SlogLogger{logger: s.logger.With(slogAttrs(fields)...), level: s.level}
}

func (s *SlogLogger) Level() LogLevel {
	current := s.level.Level()
	if current > slog.LevelError {
		return LogLevelNone
	}
	for _, l := range []LogLevel{LogLevelError, LogLevelWarn, LogLevelInfo} {
		if current >= slogLevels[l] {
			return l
		}
	}
	return LogLevelDebug
}

func (s *SlogLogger) SetLevel(level LogLevel) {
	sl, ok := slogLevels[level]
	if !ok {
		sl = slogLevelOff
	}
	s.level.Set(sl)
}

func (s *SlogLogger) emit(level slog.Level, msg string, fields LogFields) {
	if level < s.level.Level() {
		return
	}
	s.logger.Log(context.Background(), level, msg, slogAttrs(fields)...)
}

func slogAttrs(fields LogFields) []any {
	attrs := make([]any, 0, len(fields))
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		attrs = append(attrs, slog.Any(key, fields[key]))
	}
	return attrs
}
