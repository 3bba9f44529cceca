// Package history keeps a short in-memory window of recent messages per
// session. The router hands this window to the semantic judge when the
// inbound event does not carry its own context.
package history

import "sync"

// DefaultMaxMessages is the number of recent messages retained per session.
const DefaultMaxMessages = 8

// Entry is a single message stored in the ring buffer.
type Entry struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}

// Buffer stores the last N messages per session. It is goroutine-safe and
// uses a ring buffer internally.
type Buffer struct {
	mu      sync.RWMutex
	size    int
	buffers map[string]*ringBuffer // sessionID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of Entry.
type ringBuffer struct {
	items []Entry
	pos   int
	count int
}

// NewBuffer creates an empty Buffer holding up to size messages per
// session. A non-positive size falls back to DefaultMaxMessages.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultMaxMessages
	}
	return &Buffer{
		size:    size,
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the session's ring buffer. If the buffer is full,
// the oldest message is overwritten.
func (b *Buffer) Add(sessionID string, e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rb, ok := b.buffers[sessionID]
	if !ok {
		rb = &ringBuffer{items: make([]Entry, b.size)}
		b.buffers[sessionID] = rb
	}

	rb.items[rb.pos] = e
	rb.pos = (rb.pos + 1) % b.size
	if rb.count < b.size {
		rb.count++
	}
}

// Get returns the retained messages for a session in chronological order
// (oldest first). Returns an empty slice if the session has no buffer.
func (b *Buffer) Get(sessionID string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rb, ok := b.buffers[sessionID]
	if !ok {
		return []Entry{}
	}

	result := make([]Entry, rb.count)
	// The oldest message is at position (pos - count) mod size.
	start := (rb.pos - rb.count + b.size) % b.size
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%b.size]
	}
	return result
}

// Texts returns up to the last n message texts for a session, oldest first.
func (b *Buffer) Texts(sessionID string, n int) []string {
	entries := b.Get(sessionID)
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

// Remove deletes the buffer for a session.
func (b *Buffer) Remove(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.buffers, sessionID)
}
