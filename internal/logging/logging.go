// Package logging is the structured logger shared by the broker, controller
// and rotator processes.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/signalsfoundry/rotortrack/model"
)

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field                { return Field{Key: key, Value: value} }
func Int(key string, value int) Field               { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field             { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field               { return Field{Key: key, Value: value} }

// Err attaches an error under the "error" key. A nil error logs as "".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Position logs an absolute position as a group with az and el members.
func Position(key string, p model.AngularPosition) Field {
	return Field{Key: key, Value: slog.GroupValue(
		slog.Int("az", p.Azimuth),
		slog.Int("el", p.Elevation),
	)}
}

// Command logs a relative command as a group with daz and del members.
func Command(key string, c model.MotionCommand) Field {
	return Field{Key: key, Value: slog.GroupValue(
		slog.Int("daz", c.DeltaAzimuth),
		slog.Int("del", c.DeltaElevation),
	)}
}

// Logger is a small structured logging interface backed by slog.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config controls logger output.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	// Process, when set, is attached to every record.
	Process string
	// Output defaults to stderr so a controller reading tracker lines on
	// stdin can still be piped.
	Output io.Writer
}

// New constructs a Logger backed by slog.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	l := slog.New(handler)
	if cfg.Process != "" {
		l = l.With(slog.String("process", cfg.Process))
	}
	return &slogger{l: l}
}

// NewFromEnv builds the logger of a process from ROTOR_LOG_LEVEL and
// ROTOR_LOG_FORMAT, falling back to LOG_LEVEL and LOG_FORMAT.
func NewFromEnv(process string) Logger {
	return New(Config{
		Level:   envOr("ROTOR_LOG_LEVEL", "LOG_LEVEL"),
		Format:  envOr("ROTOR_LOG_FORMAT", "LOG_FORMAT"),
		Process: process,
	})
}

func envOr(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Noop returns a logger that drops all logs.
func Noop() Logger { return noopLogger{} }

type slogger struct {
	l *slog.Logger
}

func (s *slogger) With(fields ...Field) Logger {
	return &slogger{l: s.l.With(toArgs(fields...)...)}
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelDebug, msg, toAttrs(fields...)...)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelInfo, msg, toAttrs(fields...)...)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelWarn, msg, toAttrs(fields...)...)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.l.LogAttrs(ctx, slog.LevelError, msg, toAttrs(fields...)...)
}

type noopLogger struct{}

func (noopLogger) With(fields ...Field) Logger             { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

func toAttrs(fields ...Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

func toArgs(fields ...Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}

func parseLevel(level string) slog.Leveler {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var subscriberSeq atomic.Uint64

// Subscriber returns base annotated with a new process-unique subscriber_id
// and the subscription pattern, plus the ID. IDs are sequential so attach and
// detach lines of one stream are easy to pair.
func Subscriber(base Logger, pattern string) (Logger, string) {
	if base == nil {
		base = Noop()
	}
	id := fmt.Sprintf("sub-%d", subscriberSeq.Add(1))
	return base.With(String("subscriber_id", id), String("pattern", pattern)), id
}
