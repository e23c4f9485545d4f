// Package logging defines the structured logging capability every other
// component in the proxy consumes. It exists so that no package reaches for
// a global logger singleton: a Logger is constructed once and threaded
// through the acceptor, connection handler, certificate authority and flow
// store as an explicit dependency.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the minimal structured log sink the rest of the proxy depends
// on. It mirrors the subset of *slog.Logger the components actually use,
// so a caller can substitute any backend (or a no-op logger in tests)
// without importing log/slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a Logger that prepends the given key/value pairs to
	// every subsequent record, the same way slog.Logger.With does.
	With(args ...any) Logger
}

// slogLogger adapts *slog.Logger to the Logger interface.
type slogLogger struct {
	l *slog.Logger
}

// New builds a Logger backed by log/slog, writing text-formatted records to
// w at the given level. Passing a nil writer defaults to os.Stderr.
func New(w io.Writer, level slog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(h)}
}

// NewJSON builds a Logger backed by log/slog using a JSON handler, matching
// the on-disk format the teacher's instance logger uses for file output.
func NewJSON(w io.Writer, level slog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &slogLogger{l: slog.New(h)}
}

// FromSlog wraps an already-constructed *slog.Logger.
func FromSlog(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

// Nop returns a Logger that discards every record. Useful as a default when
// a caller doesn't supply one, and in tests that don't care about logs.
func Nop() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func (s *slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{l: s.l.With(args...)}
}
