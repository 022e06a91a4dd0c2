// Package logging provides the component-scoped structured loggers used
// across the storage engine, wrapping log/slog the way the rest of this
// module wraps cross-cutting concerns into small adapter types rather than
// calling a global package directly from business logic.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	base    = slog.New(slog.NewTextHandler(os.Stderr, nil))
	current = base
)

// Configure replaces the base logger used by every Logger returned from
// For. w is typically os.Stderr (text, human-readable) in development or a
// log file (JSON) in production; json selects the handler format.
func Configure(w io.Writer, level slog.Level, json bool) {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	mu.Lock()
	current = slog.New(handler)
	mu.Unlock()
}

// Logger is a component-scoped logger. It is a thin wrapper so call sites
// read "logging.For("bufferpool").Warn(...)" rather than threading a
// *slog.Logger through every constructor by hand.
type Logger struct {
	component string
}

// For returns a Logger scoped to component; every line it emits carries a
// "component" attribute.
func For(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) base() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	return current.With("component", l.component)
}

// Info logs at info level with the given key-value attributes.
func (l *Logger) Info(msg string, args ...any) { l.base().Info(msg, args...) }

// Warn logs at warn level with the given key-value attributes.
func (l *Logger) Warn(msg string, args ...any) { l.base().Warn(msg, args...) }

// Error logs at error level with the given key-value attributes.
func (l *Logger) Error(msg string, args ...any) { l.base().Error(msg, args...) }

// Debug logs at debug level with the given key-value attributes.
func (l *Logger) Debug(msg string, args ...any) { l.base().Debug(msg, args...) }
