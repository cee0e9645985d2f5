// Package logger is the structured logging layer of repomigrate, built on
// log/slog.
//
// Every component gets a Logger scoped with Module. The component name picks
// the level (logging.module_levels) and, for the migration engine
// components, an extra route into the migration activity log:
//
//	central, err := logger.NewCentralLogger(&settings.Logging)
//	if err != nil {
//	    return err
//	}
//	defer central.Close()
//
//	log := central.Module(logger.ComponentExecutor)
//	log.Info("task claimed", logger.TaskID(id))
//
// Tests use a discard logger:
//
//	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
package logger

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// LogLevel represents log severity levels
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// levelTrace sits below slog.LevelDebug
const levelTrace = slog.Level(-8)

// Logger is the logging interface passed to every component
type Logger interface {
	// Module returns a logger for a named component
	Module(name string) Logger

	Trace(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Log(level LogLevel, msg string, fields ...Field)

	With(fields ...Field) Logger
	// WithContext attaches the trace id carried by ctx
	WithContext(ctx context.Context) Logger

	Flush() error
}

// Field is one structured key/value pair
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Int64(key string, value int64) Field { return Field{key, value} }
func Uint64(key string, value uint64) Field { return Field{key, value} }
func Float64(key string, value float64) Field { return Field{key, value} }
func Bool(key string, value bool) Field { return Field{key, value} }
func Time(key string, value time.Time) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }

// Duration renders as a string rounded to milliseconds, e.g. "1.5s"
func Duration(key string, value time.Duration) Field { return Field{key, value} }

// Error always uses the key "error"; a nil error logs a nil value.
func Error(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

// Domain fields shared by the migration engine, so every component logs
// the same keys.

func TaskID(id string) Field { return Field{"task_id", id} }
func Digest(digest string) Field { return Field{"digest", digest} }
func NodePath(path string) Field { return Field{"full_path", path} }
func InstanceID(id string) Field { return Field{"instance_id", id} }
func ProjectID(id string) Field { return Field{"project_id", id} }
func RepoName(name string) Field { return Field{"repo_name", name} }

// StorageKey logs a credential set key; the default set is shown as "default".
func StorageKey(key, value string) Field {
	if value == "" {
		value = "default"
	}
	return Field{key, value}
}

func (f Field) attr() slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, math.Round(v*1000)/1000)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

func parseLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return levelTrace
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelName(level slog.Level) string {
	if level <= levelTrace {
		return "TRACE"
	}
	return level.String()
}

type traceIDKey struct{}

// WithTraceID returns ctx carrying traceID. Task executions use the task id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}
