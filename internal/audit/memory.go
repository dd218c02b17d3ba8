package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in memory.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Write(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.entries); n > 0 && m.entries[n-1].Seq >= e.Seq {
		return ErrConflict
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemorySink) Last(_ context.Context) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return Entry{}, false, nil
	}
	return m.entries[len(m.entries)-1], true, nil
}

func (m *MemorySink) List(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.entries, limit), nil
}

// Entries returns a copy of all stored entries.
func (m *MemorySink) Entries() []Entry {
	out, _ := m.List(context.Background(), 0)
	return out
}

func (m *MemorySink) Close() error { return nil }

// Discard drops every entry. It backs the "none" audit driver.
type Discard struct{}

func (Discard) Write(context.Context, Entry) error { return nil }

func (Discard) Last(context.Context) (Entry, bool, error) { return Entry{}, false, nil }

func (Discard) List(context.Context, int) ([]Entry, error) { return nil, nil }

func (Discard) Close() error { return nil }

func tail(entries []Entry, limit int) []Entry {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
