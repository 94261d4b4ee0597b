package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinel-engine/internal/schema"
)

// memoryMaxRows bounds each in-memory table during degraded operation.
const memoryMaxRows = 100000

// MemoryStore is an in-memory Sinks implementation. It is the degraded-mode
// fallback when ClickHouse is not configured, and the fixture for tests.
// Each table is bounded; the oldest rows are dropped past the cap.
type MemoryStore struct {
	mu        sync.Mutex
	access    []schema.APIAccessRecord
	auth      []schema.AuthEventRecord
	incidents []schema.SecurityIncident
	metrics   []schema.MetricSnapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendAccess stores one access record.
func (m *MemoryStore) AppendAccess(_ context.Context, rec schema.APIAccessRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access = append(m.access, rec)
	if len(m.access) > memoryMaxRows {
		m.access = m.access[len(m.access)-memoryMaxRows:]
	}
	return nil
}

// StatsByIP aggregates request counts and distinct endpoints per IP.
func (m *MemoryStore) StatsByIP(_ context.Context, since time.Time) ([]IPAccessStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int)
	respTotals := make(map[string]float64)
	endpoints := make(map[string]map[string]struct{})
	for _, rec := range m.access {
		if rec.Timestamp.Before(since) {
			continue
		}
		counts[rec.IP]++
		respTotals[rec.IP] += rec.ResponseTimeMS
		if endpoints[rec.IP] == nil {
			endpoints[rec.IP] = make(map[string]struct{})
		}
		endpoints[rec.IP][rec.Endpoint] = struct{}{}
	}

	out := make([]IPAccessStats, 0, len(counts))
	for ip, n := range counts {
		out = append(out, IPAccessStats{
			IP:                ip,
			RequestCount:      n,
			UniqueEndpoints:   len(endpoints[ip]),
			AvgResponseTimeMS: respTotals[ip] / float64(n),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestCount > out[j].RequestCount })
	return out, nil
}

// LargeTransfers sums response sizes above minBytes per (IP, user).
func (m *MemoryStore) LargeTransfers(_ context.Context, since time.Time, minBytes int64) ([]TransferStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type key struct {
		ip   string
		user string
	}
	agg := make(map[key]*TransferStats)
	for _, rec := range m.access {
		if rec.Timestamp.Before(since) || rec.ResponseSize <= minBytes {
			continue
		}
		k := key{rec.IP, rec.UserID}
		st, ok := agg[k]
		if !ok {
			st = &TransferStats{IP: rec.IP, UserID: rec.UserID}
			agg[k] = st
		}
		st.TotalBytes += rec.ResponseSize
		st.RowCount++
	}

	out := make([]TransferStats, 0, len(agg))
	for _, st := range agg {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalBytes > out[j].TotalBytes })
	return out, nil
}

// CountRequests counts access rows at or after since.
func (m *MemoryStore) CountRequests(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, rec := range m.access {
		if !rec.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// PurgeAccessBefore drops access rows older than cutoff.
func (m *MemoryStore) PurgeAccessBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.access[:0]
	removed := 0
	for _, rec := range m.access {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.access = kept
	return removed, nil
}

// AppendAuthEvent stores one authentication event.
func (m *MemoryStore) AppendAuthEvent(_ context.Context, rec schema.AuthEventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auth = append(m.auth, rec)
	if len(m.auth) > memoryMaxRows {
		m.auth = m.auth[len(m.auth)-memoryMaxRows:]
	}
	return nil
}

// FailedLoginsByIP counts failed logins per IP at or after since.
func (m *MemoryStore) FailedLoginsByIP(_ context.Context, since time.Time) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int)
	for _, rec := range m.auth {
		if rec.Timestamp.Before(since) || rec.Success {
			continue
		}
		out[rec.IP]++
	}
	return out, nil
}

// CountFailedLogins counts failed logins at or after since.
func (m *MemoryStore) CountFailedLogins(_ context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, rec := range m.auth {
		if !rec.Timestamp.Before(since) && !rec.Success {
			n++
		}
	}
	return n, nil
}

// PurgeAuthBefore drops auth rows older than cutoff.
func (m *MemoryStore) PurgeAuthBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.auth[:0]
	removed := 0
	for _, rec := range m.auth {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.auth = kept
	return removed, nil
}

// AppendIncident stores one incident row.
func (m *MemoryStore) AppendIncident(_ context.Context, inc schema.SecurityIncident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, inc)
	if len(m.incidents) > memoryMaxRows {
		m.incidents = m.incidents[len(m.incidents)-memoryMaxRows:]
	}
	return nil
}

// PurgeIncidentsBefore drops incident rows older than cutoff.
func (m *MemoryStore) PurgeIncidentsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.incidents[:0]
	removed := 0
	for _, inc := range m.incidents {
		if inc.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, inc)
	}
	m.incidents = kept
	return removed, nil
}

// AppendMetric stores one metric snapshot row.
func (m *MemoryStore) AppendMetric(_ context.Context, snap schema.MetricSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, snap)
	if len(m.metrics) > memoryMaxRows {
		m.metrics = m.metrics[len(m.metrics)-memoryMaxRows:]
	}
	return nil
}

// PurgeMetricsBefore drops metric rows older than cutoff.
func (m *MemoryStore) PurgeMetricsBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.metrics[:0]
	removed := 0
	for _, snap := range m.metrics {
		if snap.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, snap)
	}
	m.metrics = kept
	return removed, nil
}

// Incidents returns a copy of the stored incident rows, oldest first.
func (m *MemoryStore) Incidents() []schema.SecurityIncident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.SecurityIncident, len(m.incidents))
	copy(out, m.incidents)
	return out
}

var _ Sinks = (*MemoryStore)(nil)
