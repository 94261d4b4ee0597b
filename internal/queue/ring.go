// Package queue provides a thread-safe bounded ring buffer with FIFO
// eviction, used for in-memory incident and metric history.
package queue

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Ring is a fixed-capacity circular buffer. When full, Push evicts the
// oldest element instead of rejecting the write.
type Ring[T any] struct {
	buf   []T
	size  int
	head  int // index of oldest element
	tail  int // next write position
	count int
	mu    sync.Mutex

	// Metrics (accessed atomically)
	totalPushed  uint64
	totalEvicted uint64
}

// NewRing creates a Ring with the specified capacity.
func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 10000 // Default capacity
	}
	return &Ring[T]{
		buf:  make([]T, size),
		size: size,
	}
}

// Push appends v, evicting the oldest element if the buffer is full.
// It returns the evicted element and whether an eviction happened.
func (r *Ring[T]) Push(v T) (evicted T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < 0 || r.count > r.size {
		// Corrupted state is recovered by resetting rather than crashing.
		slog.Error("ring buffer invariant violated, resetting",
			"count", r.count, "capacity", r.size)
		r.resetLocked()
	}

	if r.count == r.size {
		evicted = r.buf[r.head]
		ok = true
		r.head = (r.head + 1) % r.size
		r.count--
		atomic.AddUint64(&r.totalEvicted, 1)
	}

	r.buf[r.tail] = v
	r.tail = (r.tail + 1) % r.size
	r.count++
	atomic.AddUint64(&r.totalPushed, 1)
	return evicted, ok
}

// Snapshot returns a copy of the contents in insertion order, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%r.size])
	}
	return out
}

// Latest returns the most recently pushed element.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.count == 0 {
		return zero, false
	}
	idx := (r.tail - 1 + r.size) % r.size
	return r.buf[idx], true
}

// Len returns the current number of elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return r.size
}

// Reset discards all elements.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *Ring[T]) resetLocked() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.count = 0
}

// Stats holds ring buffer counters.
type Stats struct {
	Pushed   uint64 `json:"pushed"`
	Evicted  uint64 `json:"evicted"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// Stats returns buffer statistics.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Pushed:   atomic.LoadUint64(&r.totalPushed),
		Evicted:  atomic.LoadUint64(&r.totalEvicted),
		Depth:    r.Len(),
		Capacity: r.size,
	}
}
