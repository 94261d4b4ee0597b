package schema

import "time"

// Metric names used by snapshots and thresholds.
const (
	MetricCPUUsage              = "cpu_usage"
	MetricMemoryUsage           = "memory_usage"
	MetricDiskUsage             = "disk_usage"
	MetricNetworkConnections    = "network_connections"
	MetricFailedLoginsLastHour  = "failed_logins_last_hour"
	MetricAPIRequestsLastMinute = "api_requests_last_minute"
)

// MetricNames lists the threshold-checked metrics in a stable order.
var MetricNames = []string{
	MetricCPUUsage,
	MetricMemoryUsage,
	MetricDiskUsage,
	MetricNetworkConnections,
	MetricFailedLoginsLastHour,
	MetricAPIRequestsLastMinute,
}

// MetricSnapshot is one periodic sample of system and security telemetry.
// Immutable once produced.
type MetricSnapshot struct {
	Timestamp                  time.Time `json:"timestamp"`
	CPUUsage                   float64   `json:"cpu_usage"`
	MemoryUsage                float64   `json:"memory_usage"`
	DiskUsage                  float64   `json:"disk_usage"`
	NetworkConnections         int       `json:"network_connections"`
	ActiveSessions             int       `json:"active_sessions"`
	FailedLoginsLastHour       int       `json:"failed_logins_last_hour"`
	APIRequestsLastMinute      int       `json:"api_requests_last_minute"`
	ThreatDetectionsLastMinute int       `json:"threat_detections_last_minute"`
}

// MetricValue returns the snapshot value for a named metric.
func (m MetricSnapshot) MetricValue(name string) (float64, bool) {
	switch name {
	case MetricCPUUsage:
		return m.CPUUsage, true
	case MetricMemoryUsage:
		return m.MemoryUsage, true
	case MetricDiskUsage:
		return m.DiskUsage, true
	case MetricNetworkConnections:
		return float64(m.NetworkConnections), true
	case MetricFailedLoginsLastHour:
		return float64(m.FailedLoginsLastHour), true
	case MetricAPIRequestsLastMinute:
		return float64(m.APIRequestsLastMinute), true
	}
	return 0, false
}

// Indicators renders the full snapshot as incident evidence.
func (m MetricSnapshot) Indicators() map[string]Value {
	return map[string]Value{
		MetricCPUUsage:                  NumberValue(m.CPUUsage),
		MetricMemoryUsage:               NumberValue(m.MemoryUsage),
		MetricDiskUsage:                 NumberValue(m.DiskUsage),
		MetricNetworkConnections:        IntValue(m.NetworkConnections),
		"active_sessions":               IntValue(m.ActiveSessions),
		MetricFailedLoginsLastHour:      IntValue(m.FailedLoginsLastHour),
		MetricAPIRequestsLastMinute:     IntValue(m.APIRequestsLastMinute),
		"threat_detections_last_minute": IntValue(m.ThreatDetectionsLastMinute),
	}
}

// Thresholds maps a metric name to its alert limit. Static after startup.
type Thresholds map[string]float64

// DefaultThresholds returns the built-in alert limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MetricCPUUsage:              85,
		MetricMemoryUsage:           90,
		MetricDiskUsage:             95,
		MetricFailedLoginsLastHour:  10,
		MetricAPIRequestsLastMinute: 1000,
		MetricNetworkConnections:    500,
	}
}

// Clone returns a copy so the engine's thresholds stay immutable.
func (t Thresholds) Clone() Thresholds {
	cp := make(Thresholds, len(t))
	for k, v := range t {
		cp[k] = v
	}
	return cp
}
