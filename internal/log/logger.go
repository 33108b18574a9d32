// Package log adapts zerolog to the SDK Logger interface.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for building a logger.
type Config struct {
	Level     string    // optional log level ("debug", "info", etc.)
	Output    io.Writer // optional writer (defaults to os.Stderr)
	Component string    // optional component name attached to every entry
	Console   bool      // human readable output instead of JSON
}

// Logger implements the SDK Logger interface on top of zerolog.
type Logger struct {
	zl zerolog.Logger
}

// New builds a zerolog-backed Logger.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	} else if env := os.Getenv("CIVIC_LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	if cfg.Console {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	ctx := zerolog.New(writer).Level(level).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	return &Logger{zl: ctx.Logger()}
}

// Wrap adapts an existing zerolog logger.
func Wrap(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent returns a child logger annotated with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	withFields(l.zl.Debug(), keysAndValues).Msg(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	withFields(l.zl.Info(), keysAndValues).Msg(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	withFields(l.zl.Warn(), keysAndValues).Msg(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	withFields(l.zl.Error(), keysAndValues).Msg(msg)
}

// withFields attaches alternating key/value pairs. A dangling key is logged
// under "extra".
func withFields(ev *zerolog.Event, kv []interface{}) *zerolog.Event {
	if ev == nil {
		return ev
	}
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			ev = ev.Interface("extra", kv[i])
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		switch v := kv[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	return ev
}
