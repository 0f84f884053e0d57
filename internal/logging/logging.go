// Package logging adapts zerolog to the logger interface the core service
// consumes.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger and emits structured key/value pairs.
type Logger struct {
	zl zerolog.Logger
}

// New builds a logger writing JSON lines to w. A nil writer falls back to
// stderr.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// NewConsole builds a human-readable logger for interactive use.
func NewConsole() *Logger {
	return &Logger{zl: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()}
}

// WithLevel returns a copy of the logger filtered to the given level.
func (l *Logger) WithLevel(level zerolog.Level) *Logger {
	return &Logger{zl: l.zl.Level(level)}
}

func fields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...any) {
	fields(l.zl.Debug(), args).Msg(msg)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...any) {
	fields(l.zl.Info(), args).Msg(msg)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...any) {
	fields(l.zl.Warn(), args).Msg(msg)
}

// Error logs at error level.
func (l *Logger) Error(msg string, args ...any) {
	fields(l.zl.Error(), args).Msg(msg)
}
