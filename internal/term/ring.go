// Package term holds the renderer-side pieces of the embedded terminal:
// bounded output history per host process and a liveness sweep that bounds
// memory when the host never sends an explicit cleanup.
package term

import (
	"sync"
)

// DefaultRingBytes bounds one process's retained output history.
const DefaultRingBytes = 256 * 1024

// Ring is a bounded byte buffer that keeps the most recent writes.
// Safe for concurrent use; it is shared across store snapshots and versioned
// externally (store.TerminalStream.Seq).
type Ring struct {
	mu        sync.Mutex
	max       int
	buf       []byte
	truncated bool
}

// NewRing creates a ring retaining at most max bytes. Non-positive max falls
// back to DefaultRingBytes.
func NewRing(max int) *Ring {
	if max <= 0 {
		max = DefaultRingBytes
	}
	return &Ring{max: max}
}

// Write appends p, evicting the oldest bytes beyond the ring's capacity.
// Always reports full success so producers never block on a full history.
func (r *Ring) Write(p []byte) (int, error) {
	if r == nil || len(p) == 0 {
		return len(p), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= r.max {
		r.buf = append(r.buf[:0], p[len(p)-r.max:]...)
		r.truncated = true
		return len(p), nil
	}

	r.buf = append(r.buf, p...)
	if len(r.buf) > r.max {
		over := len(r.buf) - r.max
		r.buf = append(r.buf[:0], r.buf[over:]...)
		r.truncated = true
	}
	return len(p), nil
}

// Bytes returns a copy of the retained history.
func (r *Ring) Bytes() []byte {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf...)
}

// Len returns the number of retained bytes.
func (r *Ring) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Truncated reports whether older output has been evicted.
func (r *Ring) Truncated() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}
