// Package kodrlog wraps zerolog behind a small Logger type, threaded
// explicitly through the Ctx-style configuration structs of every
// component (the same way the teacher threads a *log.Logger through
// build.Ctx and batch.Ctx), rather than reaching for a global logger.
package kodrlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is a thin, explicitly-passed wrapper around zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// New returns a Logger writing human-readable console output to w.
func New(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).With().Timestamp().Logger()}
}

// NewStderr returns the default Logger, writing to os.Stderr.
func NewStderr() *Logger { return New(os.Stderr) }

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child Logger with the given key/value pair attached to
// every subsequent event, mirroring zerolog's own With().
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}
