// Package logging adapts github.com/phuslu/log to the domain Logger interface.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/phuslu/log"

	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
)

// Logger implements interfaces.Logger on top of phuslu/log
type Logger struct {
	base   *log.Logger
	fields []interfaces.Field
}

// Options configures a Logger
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Writer io.Writer
}

// lockedWriter serializes entries from concurrent jobs onto one writer
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// New creates a structured logger writing to opts.Writer. The logger and
// loggers derived with With are safe for concurrent use.
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	out := &lockedWriter{w: w}

	var writer log.Writer
	if opts.Format == "json" {
		writer = &log.IOWriter{Writer: out}
	} else {
		writer = &log.ConsoleWriter{
			Writer:         out,
			QuoteString:    true,
			EndWithMessage: true,
		}
	}

	return &Logger{
		base: &log.Logger{
			Level:      log.ParseLevel(opts.Level),
			TimeFormat: "15:04:05",
			Writer:     writer,
		},
	}
}

// Debug logs debug-level messages
func (l *Logger) Debug(msg string, fields ...interfaces.Field) {
	l.emit(l.base.Debug(), msg, fields)
}

// Info logs informational messages
func (l *Logger) Info(msg string, fields ...interfaces.Field) {
	l.emit(l.base.Info(), msg, fields)
}

// Warn logs warning messages
func (l *Logger) Warn(msg string, fields ...interfaces.Field) {
	l.emit(l.base.Warn(), msg, fields)
}

// Error logs error messages
func (l *Logger) Error(msg string, fields ...interfaces.Field) {
	l.emit(l.base.Error(), msg, fields)
}

// With returns a logger that adds fields to every entry
func (l *Logger) With(fields ...interfaces.Field) interfaces.Logger {
	merged := make([]interfaces.Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &Logger{base: l.base, fields: merged}
}

func (l *Logger) emit(e *log.Entry, msg string, fields []interfaces.Field) {
	// Disabled levels return a nil entry
	if e == nil {
		return
	}
	for _, f := range l.fields {
		e = addField(e, f)
	}
	for _, f := range fields {
		e = addField(e, f)
	}
	e.Msg(msg)
}

func addField(e *log.Entry, f interfaces.Field) *log.Entry {
	switch v := f.Value.(type) {
	case string:
		return e.Str(f.Key, v)
	case int:
		return e.Int(f.Key, v)
	case bool:
		return e.Bool(f.Key, v)
	case error:
		return e.AnErr(f.Key, v)
	default:
		return e.Any(f.Key, v)
	}
}

var _ interfaces.Logger = (*Logger)(nil)
