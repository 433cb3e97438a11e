// Package testutil provides shared test helpers.
package testutil

import (
	"strings"
	"sync"

	"github.com/turtacn/nerruler/internal/infrastructure/monitoring/logging"
)

// LogEntry is one record captured by RecordingLogger.
type LogEntry struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of the named field, if present.
func (e LogEntry) Field(key string) (interface{}, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

type sink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// RecordingLogger implements logging.Logger and keeps every entry in memory.
// Loggers derived with With or Named share the parent's entries.
type RecordingLogger struct {
	sink   *sink
	name   string
	fields []logging.Field
}

// NewRecordingLogger returns an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{sink: &sink{}}
}

func (l *RecordingLogger) record(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = append(l.sink.entries, LogEntry{Level: level, Logger: l.name, Message: msg, Fields: all})
}

func (l *RecordingLogger) Debug(msg string, fields ...logging.Field) { l.record("debug", msg, fields) }
func (l *RecordingLogger) Info(msg string, fields ...logging.Field)  { l.record("info", msg, fields) }
func (l *RecordingLogger) Warn(msg string, fields ...logging.Field)  { l.record("warn", msg, fields) }
func (l *RecordingLogger) Error(msg string, fields ...logging.Field) { l.record("error", msg, fields) }

// Fatal records the entry without exiting.
func (l *RecordingLogger) Fatal(msg string, fields ...logging.Field) { l.record("fatal", msg, fields) }

func (l *RecordingLogger) With(fields ...logging.Field) logging.Logger {
	return &RecordingLogger{sink: l.sink, name: l.name, fields: append(append([]logging.Field(nil), l.fields...), fields...)}
}

func (l *RecordingLogger) Named(name string) logging.Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	return &RecordingLogger{sink: l.sink, name: full, fields: l.fields}
}

func (l *RecordingLogger) Sync() error { return nil }

// Entries returns a copy of all captured entries.
func (l *RecordingLogger) Entries() []LogEntry {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return append([]LogEntry(nil), l.sink.entries...)
}

// Reset drops all captured entries.
func (l *RecordingLogger) Reset() {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.entries = nil
}

// Has reports whether an entry with exactly this level and message exists.
func (l *RecordingLogger) Has(level, msg string) bool {
	_, ok := l.Find(func(e LogEntry) bool { return e.Level == level && e.Message == msg })
	return ok
}

// Contains reports whether any message contains sub.
func (l *RecordingLogger) Contains(sub string) bool {
	_, ok := l.Find(func(e LogEntry) bool { return strings.Contains(e.Message, sub) })
	return ok
}

// Find returns the first entry matching pred.
func (l *RecordingLogger) Find(pred func(LogEntry) bool) (LogEntry, bool) {
	for _, e := range l.Entries() {
		if pred(e) {
			return e, true
		}
	}
	return LogEntry{}, false
}
