package telemetry

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// MemoryJournal keeps entries in memory. Used by tests and scenario runs.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
	ids     map[string]bool
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{ids: make(map[string]bool)}
}

// Append stores e, assigning an ID if it has none. IDs must be unique.
func (m *MemoryJournal) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if m.ids[e.ID] {
		return fmt.Errorf("duplicate entry ID: %s", e.ID)
	}
	e.Fields = maps.Clone(e.Fields)
	m.entries = append(m.entries, e)
	m.ids[e.ID] = true
	return nil
}

// Query returns matching entries, oldest first.
func (m *MemoryJournal) Query(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Len returns the number of stored entries.
func (m *MemoryJournal) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryJournal) Close() error { return nil }
