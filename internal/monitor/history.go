// Package monitor samples system and security telemetry, keeps a bounded
// snapshot history, and raises incidents for threshold violations.
package monitor

import (
	"sentinel-engine/internal/queue"
	"sentinel-engine/internal/schema"
)

// History is the bounded in-memory snapshot history. At the default one
// minute cadence 1440 snapshots cover 24 hours.
type History struct {
	ring *queue.Ring[schema.MetricSnapshot]
}

// NewHistory creates a History holding at most size snapshots.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1440
	}
	return &History{ring: queue.NewRing[schema.MetricSnapshot](size)}
}

// Append records a snapshot, evicting the oldest when full.
func (h *History) Append(snap schema.MetricSnapshot) {
	h.ring.Push(snap)
}

// Latest returns the most recent snapshot.
func (h *History) Latest() (schema.MetricSnapshot, bool) {
	return h.ring.Latest()
}

// Snapshot returns all retained snapshots, oldest first.
func (h *History) Snapshot() []schema.MetricSnapshot {
	return h.ring.Snapshot()
}

// Recent returns up to n of the most recent snapshots, oldest first.
func (h *History) Recent(n int) []schema.MetricSnapshot {
	all := h.ring.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of retained snapshots.
func (h *History) Len() int {
	return h.ring.Len()
}
