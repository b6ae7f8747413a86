// Package testutil provides shared test helpers for mKTL-go's package-level
// tests: a capturing Logger (modeled on the teacher's coreengine/testutil
// MockLogger) and FreeTCPPort, a small network helper for tests that need a
// free port without going through the full transport bind logic.
package testutil

import (
	"net"
	"sync"

	"github.com/KeckObservatory/mktl-go/internal/logging"
)

// LogEntry records one captured log call.
type LogEntry struct {
	Level   string
	Message string
	Fields  []any
}

// MockLogger implements logging.Logger and records every call for
// assertion, rather than writing anywhere.
type MockLogger struct {
	mu   sync.Mutex
	logs []LogEntry
}

// NewMockLogger returns an empty MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func (m *MockLogger) Debug(msg string, kv ...any) { m.record("debug", msg, kv) }
func (m *MockLogger) Info(msg string, kv ...any)  { m.record("info", msg, kv) }
func (m *MockLogger) Warn(msg string, kv ...any)  { m.record("warn", msg, kv) }
func (m *MockLogger) Error(msg string, kv ...any) { m.record("error", msg, kv) }

// Bind returns the same MockLogger; callers that need scoped fields can
// wrap the returned instance in a thin adapter, but most tests only assert
// on message/level so sharing storage is sufficient.
func (m *MockLogger) Bind(...any) logging.Logger { return m }

func (m *MockLogger) record(level, msg string, kv []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, LogEntry{Level: level, Message: msg, Fields: kv})
}

// Entries returns a copy of every captured log call.
func (m *MockLogger) Entries() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LogEntry, len(m.logs))
	copy(out, m.logs)
	return out
}

// HasMessage reports whether any captured entry at level has message.
func (m *MockLogger) HasMessage(level, message string) bool {
	for _, e := range m.Entries() {
		if e.Level == level && e.Message == message {
			return true
		}
	}
	return false
}

// FreeTCPPort binds an ephemeral port, closes the listener, and returns the
// port number, for tests that need to hand a specific port to a component
// under test rather than letting it auto-select one.
func FreeTCPPort(t interface{ Fatalf(string, ...any) }) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testutil: reserve free port: %v", err)
		return 0
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
