// Package logging is the printf-style facade every pipeline component
// logs through. Production wiring backs it with the process slog handler.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
)

// Logger is satisfied by Nop, FromSlog and NewComponentLogger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type printfLogger struct {
	logger *slog.Logger
}

// NewComponentLogger logs through slog.Default under a component attribute.
// The default is looked up per call, so loggers built before the handler
// is installed still follow it.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

// FromSlog formats each message before handing it to logger.
func FromSlog(logger *slog.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	if component != "" {
		logger = logger.With("component", component)
	}
	return &printfLogger{logger: logger}
}

func (l *printfLogger) Debug(format string, args ...any) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l *printfLogger) Info(format string, args ...any) {
	l.emit(slog.LevelInfo, format, args...)
}

func (l *printfLogger) Warn(format string, args ...any) {
	l.emit(slog.LevelWarn, format, args...)
}

func (l *printfLogger) Error(format string, args ...any) {
	l.emit(slog.LevelError, format, args...)
}

func (l *printfLogger) emit(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

type componentLogger struct {
	component string
}

func (l *componentLogger) scoped() *printfLogger {
	return &printfLogger{logger: slog.Default().With("component", l.component)}
}

func (l *componentLogger) Debug(format string, args ...any) { l.scoped().Debug(format, args...) }
func (l *componentLogger) Info(format string, args ...any)  { l.scoped().Info(format, args...) }
func (l *componentLogger) Warn(format string, args ...any)  { l.scoped().Warn(format, args...) }
func (l *componentLogger) Error(format string, args ...any) { l.scoped().Error(format, args...) }
