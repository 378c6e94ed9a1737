package realtime

import "sync"

const defaultHistoryCapacity = 100

// History stores received messages, newest first.
type History interface {
	Push(Message)
	Snapshot() []Message
	Len() int
}

// Ring is a fixed-capacity in-memory History. When full, the oldest message
// is evicted.
type Ring struct {
	mu   sync.Mutex
	buf  []Message
	next int // slot for the next write
	n    int
}

// NewRing creates a ring holding at most capacity messages.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	return &Ring{buf: make([]Message, capacity)}
}

// Push appends msg, evicting the oldest entry when the ring is full.
func (r *Ring) Push(msg Message) {
	r.mu.Lock()
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the stored messages, most recent first.
func (r *Ring) Snapshot() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, r.n)
	for i := 1; i <= r.n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Len returns the number of stored messages.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }
