package channel

import (
	"sync"
	"time"

	"github.com/inklive/collab/internal/models"
)

// OutboxEntry is one event accepted while disconnected, awaiting delivery.
type OutboxEntry struct {
	Event      models.EventType
	Payload    []byte
	EnqueuedAt time.Time
}

// Outbox is the client-local FIFO of not-yet-delivered outgoing events.
// Ownership is exclusive to the Client; entries are drained in submission
// order once connectivity resumes.
type Outbox struct {
	mu      sync.Mutex
	entries []OutboxEntry
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// Append adds an entry at the tail.
func (o *Outbox) Append(e OutboxEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, e)
}

// NextBatch removes and returns up to n entries from the head.
func (o *Outbox) NextBatch(n int) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > len(o.entries) {
		n = len(o.entries)
	}
	if n == 0 {
		return nil
	}
	batch := make([]OutboxEntry, n)
	copy(batch, o.entries[:n])
	o.entries = o.entries[n:]
	return batch
}

// Requeue puts entries back at the head, preserving their relative order.
// Used when a drain batch fails mid-send so nothing is dropped.
func (o *Outbox) Requeue(entries []OutboxEntry) {
	if len(entries) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(append([]OutboxEntry{}, entries...), o.entries...)
}

// Len returns the number of pending entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
