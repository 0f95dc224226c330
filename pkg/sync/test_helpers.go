package sync

import (
	"context"
	"errors"
	"sync"

	"github.com/Veraticus/linkboard/pkg/transport"
)

// mockBus implements transport.Bus and records every publish.
type mockBus struct {
	mu        sync.Mutex
	published [][]byte
	subs      []chan transport.Delivery
	pubErr    error
}

func newMockBus() *mockBus {
	return &mockBus{}
}

func (m *mockBus) Publish(_ context.Context, _ string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pubErr != nil {
		return m.pubErr
	}
	m.published = append(m.published, append([]byte(nil), data...))
	return nil
}

func (m *mockBus) Subscribe(ctx context.Context, _ string) (<-chan transport.Delivery, error) {
	ch := make(chan transport.Delivery, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch, nil
}

func (m *mockBus) Close() error { return nil }

// Deliver pushes a raw payload to every subscriber.
func (m *mockBus) Deliver(from string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		ch <- transport.Delivery{From: from, Data: data}
	}
}

func (m *mockBus) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockBus) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pubErr = err
}

var errBusDown = errors.New("bus down")

// testLogger implements Logger for testing
type testLogger struct {
	mu   sync.Mutex
	logs []logEntry
}

type logEntry struct {
	level string
	msg   string
	kv    []any
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.log("DEBUG", msg, keysAndValues...)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.log("INFO", msg, keysAndValues...)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.log("ERROR", msg, keysAndValues...)
}

func (l *testLogger) log(level, msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs = append(l.logs, logEntry{level: level, msg: msg, kv: keysAndValues})
}

func (l *testLogger) Count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.logs {
		if e.level == level {
			n++
		}
	}
	return n
}
