package storage

import (
	"context"
	"time"

	"sentinel-engine/internal/schema"
)

// IPAccessStats summarizes access log rows for one source IP over a window.
type IPAccessStats struct {
	IP                string
	RequestCount      int
	UniqueEndpoints   int
	AvgResponseTimeMS float64
}

// TransferStats summarizes large response transfers for one (IP, user) pair.
type TransferStats struct {
	IP         string
	UserID     string
	TotalBytes int64
	RowCount   int
}

// AccessLogSink persists API access records and answers the aggregate
// queries the pattern analyzer runs against them.
type AccessLogSink interface {
	AppendAccess(ctx context.Context, rec schema.APIAccessRecord) error

	// StatsByIP returns per-IP request counts and distinct endpoint counts
	// for rows at or after since.
	StatsByIP(ctx context.Context, since time.Time) ([]IPAccessStats, error)

	// LargeTransfers returns per-(IP, user) sums of response sizes, counting
	// only rows whose individual response size exceeds minBytes.
	LargeTransfers(ctx context.Context, since time.Time, minBytes int64) ([]TransferStats, error)

	// CountRequests returns the total number of access rows at or after since.
	CountRequests(ctx context.Context, since time.Time) (int, error)

	// PurgeAccessBefore removes rows older than cutoff and returns how many.
	PurgeAccessBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AuthEventSink persists authentication events and answers failed-login
// aggregates for the brute force detector and the metric sampler.
type AuthEventSink interface {
	AppendAuthEvent(ctx context.Context, rec schema.AuthEventRecord) error

	// FailedLoginsByIP returns per-IP counts of failed logins at or after since.
	FailedLoginsByIP(ctx context.Context, since time.Time) (map[string]int, error)

	// CountFailedLogins returns the total failed logins at or after since.
	CountFailedLogins(ctx context.Context, since time.Time) (int, error)

	// PurgeAuthBefore removes rows older than cutoff and returns how many.
	PurgeAuthBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// IncidentSink durably appends incidents and serves retention purges. The
// authoritative working set stays in memory; this is the audit trail.
type IncidentSink interface {
	AppendIncident(ctx context.Context, inc schema.SecurityIncident) error
	PurgeIncidentsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MetricSink durably appends metric snapshots and serves retention purges.
type MetricSink interface {
	AppendMetric(ctx context.Context, snap schema.MetricSnapshot) error
	PurgeMetricsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Sinks bundles all four sink roles. Both the ClickHouse store and the
// in-memory store satisfy it.
type Sinks interface {
	AccessLogSink
	AuthEventSink
	IncidentSink
	MetricSink
}
