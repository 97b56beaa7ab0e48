package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkUnavailable is returned by sinks that cannot currently accept writes.
var ErrSinkUnavailable = errors.New("audit sink unavailable")

// Sink persists audit entries. Write receives entries oldest first and either
// stores all of them or returns an error, in which case the same entries are
// offered again later.
type Sink interface {
	Name() string
	Write(ctx context.Context, entries []Entry) error
}

// MemorySink keeps entries in memory. Used by tests and as a stand-in when
// no external store is configured.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	fail    error
	writes  int
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Name identifies the sink in logs.
func (m *MemorySink) Name() string { return "memory" }

// Write stores entries, or returns the configured failure.
func (m *MemorySink) Write(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.fail != nil {
		return m.fail
	}
	m.entries = append(m.entries, entries...)
	return nil
}

// SetError makes subsequent writes fail with err; nil restores normal operation.
func (m *MemorySink) SetError(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Entries returns a copy of everything stored so far.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Writes returns how many times Write was called, including failed calls.
func (m *MemorySink) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
