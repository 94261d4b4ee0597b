// Package dashboard builds read-only rollups over incident and metric
// history for presentation layers.
package dashboard

import (
	"sort"
	"time"

	"sentinel-engine/internal/incident"
	"sentinel-engine/internal/schema"
)

// System health values.
const (
	HealthHealthy = "healthy"
	HealthAtRisk  = "at_risk"
)

// Trend directions.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// trendSampleSize is the number of snapshots in each compared window.
const trendSampleSize = 60

// trendBand is the percent change within which a trend reads stable.
const trendBand = 5.0

// IncidentSource is the slice of the incident store the aggregator reads.
type IncidentSource interface {
	Query(f incident.QueryFilter) []schema.SecurityIncident
}

// MetricSource is the slice of metric history the aggregator reads.
type MetricSource interface {
	Recent(n int) []schema.MetricSnapshot
	Latest() (schema.MetricSnapshot, bool)
}

// Overview is the 24-hour incident rollup.
type Overview struct {
	TotalIncidents int                        `json:"total_incidents"`
	BySeverity     map[schema.ThreatLevel]int `json:"by_severity"`
	OpenCount      int                        `json:"open_count"`
	SystemHealth   string                     `json:"system_health"`
}

// Trend compares the recent metric mean against the prior window.
type Trend struct {
	Metric        string  `json:"metric"`
	CurrentMean   float64 `json:"current_mean"`
	PreviousMean  float64 `json:"previous_mean"`
	PercentChange float64 `json:"percent_change"`
	Direction     string  `json:"direction"`
	SampleCount   int     `json:"sample_count"`
}

// ThreatSource is one attributed source of recent incidents.
type ThreatSource struct {
	SourceIP      string `json:"source_ip"`
	IncidentCount int    `json:"incident_count"`
}

// Aggregator computes dashboard rollups on demand.
type Aggregator struct {
	incidents IncidentSource
	metrics   MetricSource
	now       func() time.Time
}

// New creates an Aggregator.
func New(incidents IncidentSource, metrics MetricSource) *Aggregator {
	return &Aggregator{
		incidents: incidents,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Overview rolls up the trailing 24 hours. System health reads at_risk as
// soon as any high or critical incident exists in the window.
func (a *Aggregator) Overview() Overview {
	since := a.now().UTC().Add(-24 * time.Hour)
	recent := a.incidents.Query(incident.QueryFilter{Since: since})

	out := Overview{
		TotalIncidents: len(recent),
		BySeverity:     make(map[schema.ThreatLevel]int),
		SystemHealth:   HealthHealthy,
	}
	for _, inc := range recent {
		out.BySeverity[inc.ThreatLevel]++
		if inc.Status == schema.StatusOpen {
			out.OpenCount++
		}
		if inc.ThreatLevel.Escalates() {
			out.SystemHealth = HealthAtRisk
		}
	}
	return out
}

// Trend compares the mean of the most recent 60 snapshots of one metric
// against the mean of the 60 before them. Reads stable when the history is
// too short for a prior window.
func (a *Aggregator) Trend(metric string) Trend {
	out := Trend{Metric: metric, Direction: TrendStable}

	snaps := a.metrics.Recent(2 * trendSampleSize)
	if len(snaps) == 0 {
		return out
	}

	split := 0
	if len(snaps) > trendSampleSize {
		split = len(snaps) - trendSampleSize
	}
	prior, recent := snaps[:split], snaps[split:]

	out.CurrentMean = metricMean(recent, metric)
	out.SampleCount = len(recent)
	if len(prior) == 0 {
		return out
	}
	out.PreviousMean = metricMean(prior, metric)

	if out.PreviousMean == 0 {
		if out.CurrentMean > 0 {
			out.Direction = TrendUp
		}
		return out
	}

	out.PercentChange = (out.CurrentMean - out.PreviousMean) / out.PreviousMean * 100
	switch {
	case out.PercentChange > trendBand:
		out.Direction = TrendUp
	case out.PercentChange < -trendBand:
		out.Direction = TrendDown
	}
	return out
}

func metricMean(snaps []schema.MetricSnapshot, metric string) float64 {
	if len(snaps) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range snaps {
		v, _ := s.MetricValue(metric)
		total += v
	}
	return total / float64(len(snaps))
}

// TopThreatSources groups attributed incidents of the trailing 24 hours by
// source ip, most active first. Ties break on ip for stable output.
func (a *Aggregator) TopThreatSources(limit int) []ThreatSource {
	since := a.now().UTC().Add(-24 * time.Hour)
	recent := a.incidents.Query(incident.QueryFilter{Since: since})

	counts := make(map[string]int)
	for _, inc := range recent {
		if inc.SourceIP == "" {
			continue
		}
		counts[inc.SourceIP]++
	}

	out := make([]ThreatSource, 0, len(counts))
	for ip, n := range counts {
		out = append(out, ThreatSource{SourceIP: ip, IncidentCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IncidentCount != out[j].IncidentCount {
			return out[i].IncidentCount > out[j].IncidentCount
		}
		return out[i].SourceIP < out[j].SourceIP
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
