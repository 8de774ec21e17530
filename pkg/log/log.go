// Package log provides structured logging for agentrt.
// It wraps zerolog behind small interfaces so components can be handed a
// logger at construction and tests can pass a no-op one.
package log

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides structured logging with session context support.
type Logger interface {
	Debug() Event
	Info() Event
	Warn() Event
	Error() Event

	// With returns a child Logger carrying the key-value pair on every line.
	With(key string, value interface{}) Logger
	// WithError returns a child Logger carrying err.
	WithError(err error) Logger
	// WithContext returns a child Logger enriched with the session and
	// conversation ids stored in ctx, if any.
	WithContext(ctx context.Context) Logger

	// Underlying returns the wrapped zerolog.Logger.
	Underlying() *zerolog.Logger
}

// Event is a log line under construction.
type Event interface {
	Str(key, val string) Event
	Strs(key string, vals []string) Event
	Int(key string, val int) Event
	Int64(key string, val int64) Event
	Bool(key string, val bool) Event
	Dur(key string, val time.Duration) Event
	Err(err error) Event
	Msg(msg string)
	Msgf(format string, args ...interface{})
}

type logger struct {
	zl zerolog.Logger
}

type event struct {
	ze *zerolog.Event
}

// Config selects the level and output format of a Logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// New creates a Logger writing to stderr.
func New(cfg Config) Logger {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true

	out := w
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
	return &logger{zl: zl}
}

// NewNop creates a Logger that discards everything.
func NewNop() Logger {
	return &logger{zl: zerolog.Nop()}
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *logger) Debug() Event { return &event{ze: l.zl.Debug()} }
func (l *logger) Info() Event  { return &event{ze: l.zl.Info()} }
func (l *logger) Warn() Event  { return &event{ze: l.zl.Warn()} }
func (l *logger) Error() Event { return &event{ze: l.zl.Error()} }

func (l *logger) With(key string, value interface{}) Logger {
	return &logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *logger) WithError(err error) Logger {
	return &logger{zl: l.zl.With().Err(err).Logger()}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	zc := l.zl.With()
	if id := SessionIDFromContext(ctx); id != "" {
		zc = zc.Str("session_id", id)
	}
	if id := ConversationIDFromContext(ctx); id != "" {
		zc = zc.Str("conversation_id", id)
	}
	return &logger{zl: zc.Logger()}
}

func (l *logger) Underlying() *zerolog.Logger {
	return &l.zl
}

func (e *event) Str(key, val string) Event {
	e.ze = e.ze.Str(key, val)
	return e
}

func (e *event) Strs(key string, vals []string) Event {
	e.ze = e.ze.Strs(key, vals)
	return e
}

func (e *event) Int(key string, val int) Event {
	e.ze = e.ze.Int(key, val)
	return e
}

func (e *event) Int64(key string, val int64) Event {
	e.ze = e.ze.Int64(key, val)
	return e
}

func (e *event) Bool(key string, val bool) Event {
	e.ze = e.ze.Bool(key, val)
	return e
}

func (e *event) Dur(key string, val time.Duration) Event {
	e.ze = e.ze.Dur(key, val)
	return e
}

func (e *event) Err(err error) Event {
	e.ze = e.ze.Err(err)
	return e
}

func (e *event) Msg(msg string) {
	e.ze.Msg(msg)
}

func (e *event) Msgf(format string, args ...interface{}) {
	e.ze.Msgf(format, args...)
}

type contextKey string

const (
	sessionIDKey      contextKey = "session_id"
	conversationIDKey contextKey = "conversation_id"
	loggerKey         contextKey = "logger"
)

// ContextWithSession stores the session and conversation ids in ctx.
func ContextWithSession(ctx context.Context, sessionID, conversationID string) context.Context {
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

// SessionIDFromContext returns the session id stored in ctx.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// ConversationIDFromContext returns the conversation id stored in ctx.
func ConversationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(conversationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithLogger stores l in ctx.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the Logger stored in ctx, or a no-op Logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return NewNop()
}
