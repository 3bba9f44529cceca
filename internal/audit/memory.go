package audit

import (
	"context"
	"sync"
)

// Memory keeps records in process. It backs tests and the classify command.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory creates an empty in-memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append implements Log.
func (m *Memory) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	m.records = append(m.records, stamp(r))
	m.mu.Unlock()
	return nil
}

// List implements Log.
func (m *Memory) List(_ context.Context, limit int) ([]Record, error) {
	limit = clampLimit(limit)

	m.mu.Lock()
	defer m.mu.Unlock()

	start := len(m.records) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Record, len(m.records)-start)
	copy(out, m.records[start:])
	return out, nil
}

// Records returns a copy of every record, oldest first.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
