// Package logging provides the component-scoped logger used across placeahead.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Logger wraps a charm logger with component context
type Logger struct {
	*log.Logger
	component string
}

// NewLogger creates a logger for the given component writing to stderr
func NewLogger(component string, level LogLevel) *Logger {
	return NewWithWriter(os.Stderr, component, level)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, component string, level LogLevel) *Logger {
	logger := log.NewWithOptions(w, log.Options{
		Level:           toCharmLevel(level),
		ReportTimestamp: level == LogLevelDebug,
		Formatter:       log.TextFormatter,
	})

	return &Logger{
		Logger:    logger.With("component", component),
		component: component,
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return NewWithWriter(io.Discard, "nop", LogLevelError)
}

func toCharmLevel(level LogLevel) log.Level {
	switch level {
	case LogLevelDebug:
		return log.DebugLevel
	case LogLevelInfo:
		return log.InfoLevel
	case LogLevelWarn:
		return log.WarnLevel
	case LogLevelError:
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// WithComponent creates a child logger for a sub-component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("sub", component),
		component: component,
	}
}

// WithRequest creates a logger carrying a request token id
func (l *Logger) WithRequest(requestID string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("request_id", requestID),
		component: l.component,
	}
}

// LogError logs a failed operation with context
func (l *Logger) LogError(operation string, err error, keyvals ...any) {
	args := append([]any{"operation", operation, "error", err.Error()}, keyvals...)
	l.Error("operation failed", args...)
}

// LogTransition logs a scheduler mode change
func (l *Logger) LogTransition(from, to string, reason string) {
	l.Debug("state transition", "from", from, "to", to, "reason", reason)
}
