package cmdstream

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine,
// including the threaded executor.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for cmdstream and all its sub-packages.
// By default, cmdstream produces no log output. Call SetLogger to enable
// logging. Streams that already exist switch to the new logger on their
// next log call.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by cmdstream:
//   - [slog.LevelDebug]: engine lifecycle, executor state transitions
//   - [slog.LevelWarn]: failed backend calls, rejected state records
//   - [slog.LevelError]: broken invariants (corrupt lanes, destroying a
//     resource that still has pending uses)
//
// Example:
//
//	cmdstream.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current logger used by cmdstream.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by backends that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// streamLogger derives a per-stream logger from the package logger and
// rebuilds it only when SetLogger swapped the base.
type streamLogger struct {
	attrs []any
	cache atomic.Pointer[derivedLogger]
}

type derivedLogger struct {
	base    *slog.Logger
	derived *slog.Logger
}

func newStreamLogger(attrs ...any) *streamLogger {
	return &streamLogger{attrs: attrs}
}

// get returns the stream logger for the current package logger.
func (s *streamLogger) get() *slog.Logger {
	base := Logger()
	if d := s.cache.Load(); d != nil && d.base == base {
		return d.derived
	}
	d := &derivedLogger{base: base, derived: base.With(s.attrs...)}
	s.cache.Store(d)
	return d.derived
}
