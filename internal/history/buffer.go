// Package history keeps the most recent decoded records of a session in a
// fixed-size ring.
package history

import (
	"sync"
	"time"

	"github.com/shaunagostinho/biomet-dash/internal/biomet"
)

// DefaultCapacity keeps one hour of 1 Hz samples.
const DefaultCapacity = 3600

// Entry is a decoded record stamped with its capture time.
type Entry struct {
	Time   time.Time     `json:"time"`
	Record biomet.Record `json:"record"`
}

// Buffer is a thread-safe FIFO ring of entries. Once full, each Append
// evicts the oldest entry.
type Buffer struct {
	mu    sync.RWMutex
	items []Entry
	head  int // index of the oldest entry
	size  int
}

// New creates a buffer holding at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]Entry, capacity)}
}

// Append adds an entry, evicting the oldest one when the buffer is full.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := len(b.items)
	if b.size < c {
		b.items[(b.head+b.size)%c] = e
		b.size++
		return
	}
	b.items[b.head] = e
	b.head = (b.head + 1) % c
}

// All returns a copy of the retained entries, oldest first.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.size)
	c := len(b.items)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%c]
	}
	return out
}

// Last returns the newest entry.
func (b *Buffer) Last() (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return Entry{}, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the maximum number of retained entries.
func (b *Buffer) Cap() int {
	return len(b.items)
}

// Clear drops every entry.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.items {
		b.items[i] = Entry{}
	}
	b.head = 0
	b.size = 0
}
