package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

// HostStats reads host resource counters. Abstracted for deterministic tests.
type HostStats interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context) (float64, error)
	ConnectionCount(ctx context.Context) (int, error)
}

// SessionCounter reports the number of currently active sessions. Optional;
// the snapshot field stays zero without one.
type SessionCounter interface {
	ActiveSessions(ctx context.Context) (int, error)
}

// GopsutilStats reads host counters through gopsutil.
type GopsutilStats struct {
	// DiskPath is the mount point measured for disk usage.
	DiskPath string
}

// NewGopsutilStats returns a HostStats measuring the root filesystem.
func NewGopsutilStats() *GopsutilStats {
	return &GopsutilStats{DiskPath: "/"}
}

// CPUPercent returns total CPU utilization since the last call.
func (g *GopsutilStats) CPUPercent(ctx context.Context) (float64, error) {
	percent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percent) == 0 {
		return 0, nil
	}
	return percent[0], nil
}

// MemoryPercent returns virtual memory utilization.
func (g *GopsutilStats) MemoryPercent(ctx context.Context) (float64, error) {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vmem.UsedPercent, nil
}

// DiskPercent returns utilization of the configured mount point.
func (g *GopsutilStats) DiskPercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, g.DiskPath)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// ConnectionCount returns the number of TCP connections on the host.
func (g *GopsutilStats) ConnectionCount(ctx context.Context) (int, error) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, err
	}
	return len(conns), nil
}

// IncidentCounter is the slice of the incident store the sampler needs.
type IncidentCounter interface {
	CountCreatedSince(t time.Time) int
}

// IncidentCreator accepts incidents raised by the threshold evaluator.
type IncidentCreator interface {
	Create(ctx context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error)
}

// Sampler assembles one MetricSnapshot per tick and feeds it through the
// threshold evaluator. Any individual counter read failure is logged and
// defaulted to zero; a tick always produces a snapshot.
type Sampler struct {
	host       HostStats
	sessions   SessionCounter
	authSink   storage.AuthEventSink
	accessSink storage.AccessLogSink
	metricSink storage.MetricSink
	incidents  IncidentCounter
	creator    IncidentCreator
	history    *History
	thresholds schema.Thresholds
	limiter    Limiter
	logger     *slog.Logger
	now        func() time.Time
}

// SamplerDeps bundles the sampler's collaborators. Sinks, sessions and
// limiter may be nil.
type SamplerDeps struct {
	Host       HostStats
	Sessions   SessionCounter
	AuthSink   storage.AuthEventSink
	AccessSink storage.AccessLogSink
	MetricSink storage.MetricSink
	Incidents  IncidentCounter
	Creator    IncidentCreator
	History    *History
	Thresholds schema.Thresholds
	Limiter    Limiter
	Logger     *slog.Logger
}

// NewSampler creates a Sampler.
func NewSampler(deps SamplerDeps) *Sampler {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = allowAll{}
	}
	return &Sampler{
		host:       deps.Host,
		sessions:   deps.Sessions,
		authSink:   deps.AuthSink,
		accessSink: deps.AccessSink,
		metricSink: deps.MetricSink,
		incidents:  deps.Incidents,
		creator:    deps.Creator,
		history:    deps.History,
		thresholds: deps.Thresholds.Clone(),
		limiter:    limiter,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Sample runs one tick: collect counters, append the snapshot to history,
// persist it, then evaluate thresholds. The history append happens before
// evaluation so dashboard reads always see the snapshot that raised an
// incident.
func (s *Sampler) Sample(ctx context.Context) schema.MetricSnapshot {
	now := s.now().UTC()
	snap := schema.MetricSnapshot{Timestamp: now}

	if v, err := s.host.CPUPercent(ctx); err != nil {
		s.logger.Warn("cpu read failed", "error", err)
	} else {
		snap.CPUUsage = v
	}
	if v, err := s.host.MemoryPercent(ctx); err != nil {
		s.logger.Warn("memory read failed", "error", err)
	} else {
		snap.MemoryUsage = v
	}
	if v, err := s.host.DiskPercent(ctx); err != nil {
		s.logger.Warn("disk read failed", "error", err)
	} else {
		snap.DiskUsage = v
	}
	if v, err := s.host.ConnectionCount(ctx); err != nil {
		s.logger.Warn("connection count read failed", "error", err)
	} else {
		snap.NetworkConnections = v
	}

	if s.sessions != nil {
		if v, err := s.sessions.ActiveSessions(ctx); err != nil {
			s.logger.Warn("session count read failed", "error", err)
		} else {
			snap.ActiveSessions = v
		}
	}

	if s.authSink != nil {
		if v, err := s.authSink.CountFailedLogins(ctx, now.Add(-time.Hour)); err != nil {
			s.logger.Warn("failed login count read failed", "error", err)
		} else {
			snap.FailedLoginsLastHour = v
		}
	}
	if s.accessSink != nil {
		if v, err := s.accessSink.CountRequests(ctx, now.Add(-time.Minute)); err != nil {
			s.logger.Warn("request count read failed", "error", err)
		} else {
			snap.APIRequestsLastMinute = v
		}
	}
	if s.incidents != nil {
		snap.ThreatDetectionsLastMinute = s.incidents.CountCreatedSince(now.Add(-time.Minute))
	}

	s.history.Append(snap)
	s.persist(ctx, snap)
	s.evaluate(ctx, snap)

	return snap
}

// persist writes the snapshot to the durable sink, retrying once on a
// transient failure.
func (s *Sampler) persist(ctx context.Context, snap schema.MetricSnapshot) {
	if s.metricSink == nil {
		return
	}
	err := s.metricSink.AppendMetric(ctx, snap)
	if err != nil && storage.IsTransient(err) {
		err = s.metricSink.AppendMetric(ctx, snap)
	}
	if err != nil {
		s.logger.Error("durable metric append failed", "error", err)
	}
}

// evaluate raises one incident per violated threshold, subject to the
// dedup limiter.
func (s *Sampler) evaluate(ctx context.Context, snap schema.MetricSnapshot) {
	for _, inc := range Evaluate(snap, s.thresholds) {
		metric, _ := inc.Indicators["metric"].AsString()
		if !s.limiter.Allow(ctx, metric, inc.ThreatLevel) {
			s.logger.Debug("threshold alert suppressed", "metric", metric)
			continue
		}
		if _, err := s.creator.Create(ctx, inc); err != nil {
			s.logger.Error("threshold incident creation failed", "metric", metric, "error", err)
		}
	}
}
