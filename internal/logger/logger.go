// Package logger provides a simple logging interface for fleetrun components.
// It allows packages to log debug, info, warn, and error messages without
// being coupled to a specific logging implementation.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Logger defines the interface for logging operations.
// All level methods accept a format string and arguments, similar to fmt.Printf.
// With returns a child logger that attaches the given key/value pairs
// (e.g. "run", name, "script", script, "host", host) to every message.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	With(keyvals ...interface{}) Logger
}

// Options configures a charm-backed logger.
type Options struct {
	// Prefix is prepended to all log messages (e.g., "run" or "ssh").
	Prefix string
	// Debug enables debug-level messages.
	Debug bool
	// Color allows ANSI styling when the writer is a terminal.
	Color bool
	// Timestamp includes a timestamp on every line.
	Timestamp bool
}

// plainWriter hides the concrete type of the wrapped writer so the
// renderer cannot detect a terminal and falls back to unstyled output.
type plainWriter struct {
	w io.Writer
}

func (p plainWriter) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

type charmLogger struct {
	l *charmlog.Logger
}

// New creates a structured logger writing to w.
func New(w io.Writer, opts Options) Logger {
	if !opts.Color {
		w = plainWriter{w: w}
	}
	level := charmlog.InfoLevel
	if opts.Debug {
		level = charmlog.DebugLevel
	}
	l := charmlog.NewWithOptions(w, charmlog.Options{
		Prefix:          opts.Prefix,
		Level:           level,
		ReportTimestamp: opts.Timestamp,
		TimeFormat:      time.DateTime,
	})
	return &charmLogger{l: l}
}

func (c *charmLogger) Debug(format string, args ...interface{}) { c.l.Debugf(format, args...) }
func (c *charmLogger) Info(format string, args ...interface{})  { c.l.Infof(format, args...) }
func (c *charmLogger) Warn(format string, args ...interface{})  { c.l.Warnf(format, args...) }
func (c *charmLogger) Error(format string, args ...interface{}) { c.l.Errorf(format, args...) }

func (c *charmLogger) With(keyvals ...interface{}) Logger {
	return &charmLogger{l: c.l.With(keyvals...)}
}

// NewEnvLogger creates a stderr logger that respects the FLEETRUN_DEBUG
// environment variable for debug output.
func NewEnvLogger(prefix string) Logger {
	return New(os.Stderr, Options{
		Prefix: prefix,
		Debug:  os.Getenv("FLEETRUN_DEBUG") != "",
		Color:  true,
	})
}

// teeLogger fans each message out to several loggers.
type teeLogger []Logger

// Tee returns a logger that writes every message to all of the given loggers.
// The run logger uses it to write to the console and run.log at once.
func Tee(loggers ...Logger) Logger {
	return teeLogger(loggers)
}

func (t teeLogger) Debug(format string, args ...interface{}) {
	for _, l := range t {
		l.Debug(format, args...)
	}
}

func (t teeLogger) Info(format string, args ...interface{}) {
	for _, l := range t {
		l.Info(format, args...)
	}
}

func (t teeLogger) Warn(format string, args ...interface{}) {
	for _, l := range t {
		l.Warn(format, args...)
	}
}

func (t teeLogger) Error(format string, args ...interface{}) {
	for _, l := range t {
		l.Error(format, args...)
	}
}

func (t teeLogger) With(keyvals ...interface{}) Logger {
	children := make(teeLogger, len(t))
	for i, l := range t {
		children[i] = l.With(keyvals...)
	}
	return children
}

// noopLogger implements Logger but discards all messages.
// Useful for testing or when logging is not desired.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}
func (l *noopLogger) With(keyvals ...interface{}) Logger       { return l }

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
	Fields  []interface{}
}

// Field returns the value logged for key, or nil.
func (m LogMessage) Field(key string) interface{} {
	for i := 0; i+1 < len(m.Fields); i += 2 {
		if k, ok := m.Fields[i].(string); ok && k == key {
			return m.Fields[i+1]
		}
	}
	return nil
}

// BufferLogger captures log messages for testing.
// It is safe for concurrent use; read Messages only after writers are done.
type BufferLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
// Useful for testing that code logs expected messages.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{
		Messages: make([]LogMessage, 0),
	}
}

func (l *BufferLogger) record(level string, fields []interface{}, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...), Fields: fields})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) {
	l.record("debug", nil, format, args...)
}

func (l *BufferLogger) Info(format string, args ...interface{}) {
	l.record("info", nil, format, args...)
}

func (l *BufferLogger) Warn(format string, args ...interface{}) {
	l.record("warn", nil, format, args...)
}

func (l *BufferLogger) Error(format string, args ...interface{}) {
	l.record("error", nil, format, args...)
}

// With returns a child that records into the same buffer with extra fields.
func (l *BufferLogger) With(keyvals ...interface{}) Logger {
	return &bufferChild{root: l, fields: keyvals}
}

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Find returns the messages logged at level.
func (l *BufferLogger) Find(level string) []LogMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogMessage
	for _, m := range l.Messages {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = l.Messages[:0]
}

type bufferChild struct {
	root   *BufferLogger
	fields []interface{}
}

func (c *bufferChild) Debug(format string, args ...interface{}) {
	c.root.record("debug", c.fields, format, args...)
}

func (c *bufferChild) Info(format string, args ...interface{}) {
	c.root.record("info", c.fields, format, args...)
}

func (c *bufferChild) Warn(format string, args ...interface{}) {
	c.root.record("warn", c.fields, format, args...)
}

func (c *bufferChild) Error(format string, args ...interface{}) {
	c.root.record("error", c.fields, format, args...)
}

func (c *bufferChild) With(keyvals ...interface{}) Logger {
	fields := make([]interface{}, 0, len(c.fields)+len(keyvals))
	fields = append(fields, c.fields...)
	fields = append(fields, keyvals...)
	return &bufferChild{root: c.root, fields: fields}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewEnvLogger("")
)

// Default returns the default logger for the package.
// This is an environment-based logger with no prefix.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger for the package.
// This is useful for testing or to configure logging globally.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
