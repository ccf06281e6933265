// Package log provides structured logging for the daemon and its CLI.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for core runtime (high performance, structured fields)
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces (convenience over performance)
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with daemon process context.
//
// Use this for core runtime paths where performance matters.
// For CLI/debug surfaces, use Sugar() to get a SugaredLogger.
type Logger struct {
	zap    *zap.Logger
	fields []zap.Field
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
// Wraps zap.SugaredLogger with process context.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// Level controls the minimum severity a Logger emits, mapped from the
// configuration file's log_level string (set_config also accepts it at
// runtime).
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LevelFromString parses a config-file log level name, defaulting to info
// on an unrecognized value.
func LevelFromString(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// processLevel is shared by every Logger built with New, so the
// set_config control command's log_level key (spec.md §4.7 SUPPLEMENT)
// can take effect on already-constructed component loggers instead of
// only ones built after the change.
var processLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// SetGlobalLevel adjusts the level every process logger built with New
// enables at, immediately and in place.
func SetGlobalLevel(level Level) {
	processLevel.SetLevel(level.zapLevel())
}

// New creates a logger tagged with the daemon's component name and pid,
// enabled at the shared process level (see SetGlobalLevel). Output
// defaults to os.Stderr.
func New(component string, level Level) *Logger {
	processLevel.SetLevel(level.zapLevel())
	return newWithWriter(component, level, os.Stderr)
}

// WithOutput returns a new logger with a different output writer, the same
// fields, and the shared process level (see SetGlobalLevel).
func (l *Logger) WithOutput(w io.Writer) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		processLevel,
	)
	return &Logger{zap: zap.New(core).With(l.fields...), fields: l.fields}
}

// SetLevel returns a new logger at the given fixed level, preserving
// fields. It writes to os.Stderr; an output set with WithOutput is not kept.
// The set_config log_level key goes through SetGlobalLevel, not SetLevel.
func (l *Logger) SetLevel(level Level) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		level.zapLevel(),
	)
	return &Logger{zap: zap.New(core).With(l.fields...), fields: l.fields}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

func newWithWriter(component string, level Level, w io.Writer) *Logger {
	processLevel.SetLevel(level.zapLevel())
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		processLevel,
	)

	contextFields := []zap.Field{
		zap.String("component", component),
		zap.Int("pid", os.Getpid()),
	}

	zapLogger := zap.New(core).With(contextFields...)
	return &Logger{zap: zapLogger, fields: contextFields}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sugar returns a SugaredLogger for printf-style logging.
// Use for CLI/debug surfaces where convenience matters more than performance.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
