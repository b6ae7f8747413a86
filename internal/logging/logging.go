// Package logging defines the Logger interface every mKTL component takes
// at construction, following the teacher's commbus.BusLogger: a small
// structured, leveled interface rather than a global logger singleton. Bind
// adds the teacher's contextual-fields idiom so a component can derive a
// child logger carrying e.g. a store or connection identity without every
// call site repeating it.
package logging

import "log"

// Logger is the structured, leveled logging interface every component that
// logs takes at construction.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// Bind returns a child Logger that prepends keysAndValues to every
	// subsequent call, so a caller can write log.Bind("store", "dcs") once
	// and reuse it across a component's lifetime.
	Bind(keysAndValues ...any) Logger
}

// stdLogger wraps the standard library's log package.
type stdLogger struct {
	fields []any
}

// NewStdLogger returns a Logger backed by the standard library's log
// package, the default used when no Logger is supplied.
func NewStdLogger() Logger {
	return &stdLogger{}
}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, l.merge(keysAndValues))
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, l.merge(keysAndValues))
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, l.merge(keysAndValues))
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, l.merge(keysAndValues))
}

func (l *stdLogger) Bind(keysAndValues ...any) Logger {
	return &stdLogger{fields: l.merge(keysAndValues)}
}

func (l *stdLogger) merge(keysAndValues []any) []any {
	if len(l.fields) == 0 {
		return keysAndValues
	}
	out := make([]any, 0, len(l.fields)+len(keysAndValues))
	out = append(out, l.fields...)
	out = append(out, keysAndValues...)
	return out
}

// noopLogger discards everything; used in tests and by library embedders
// who wire their own logging externally.
type noopLogger struct{}

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(string, ...any)  {}
func (noopLogger) Info(string, ...any)   {}
func (noopLogger) Warn(string, ...any)   {}
func (noopLogger) Error(string, ...any)  {}
func (l noopLogger) Bind(...any) Logger  { return l }

// OrDefault returns l if non-nil, otherwise a fresh NewStdLogger(), matching
// the teacher's NewXWithLogger(nil) -> default pattern.
func OrDefault(l Logger) Logger {
	if l == nil {
		return NewStdLogger()
	}
	return l
}
