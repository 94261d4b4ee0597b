// Package analyzer runs windowed pattern detectors over authentication and
// API access history: brute force, access-pattern/scanning, and exfiltration.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

// Detection thresholds over the trailing one hour window.
const (
	window = time.Hour

	bruteForceFailures = 20 // failures above this from one ip

	volumeMinRequests = 100 // ips below this are not inspected
	volumeThreshold   = 500 // requests above this raise a volume incident
	scanningEndpoints = 50  // distinct endpoints above this raise scanning

	exfilRowBytes   = 1 << 20   // only rows above 1 MB count
	exfilTotalBytes = 100 << 20 // summed bytes above 100 MB raise exfiltration
)

// IncidentCreator accepts incidents raised by the detectors.
type IncidentCreator interface {
	Create(ctx context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error)
}

// Analyzer drives the three detectors on the analyze cadence.
type Analyzer struct {
	authSink   storage.AuthEventSink
	accessSink storage.AccessLogSink
	creator    IncidentCreator
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Analyzer.
func New(authSink storage.AuthEventSink, accessSink storage.AccessLogSink, creator IncidentCreator, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		authSink:   authSink,
		accessSink: accessSink,
		creator:    creator,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes one analysis tick. Detectors run sequentially and each
// catches its own errors so one failure does not abort the others.
func (a *Analyzer) Run(ctx context.Context) {
	since := a.now().UTC().Add(-window)

	if err := a.detectBruteForce(ctx, since); err != nil {
		a.logger.Error("brute force detector failed", "error", err)
	}
	if err := a.detectAccessPatterns(ctx, since); err != nil {
		a.logger.Error("access pattern detector failed", "error", err)
	}
	if err := a.detectExfiltration(ctx, since); err != nil {
		a.logger.Error("exfiltration detector failed", "error", err)
	}
}

// detectBruteForce raises one incident per ip with more than
// bruteForceFailures authentication failures in the window.
func (a *Analyzer) detectBruteForce(ctx context.Context, since time.Time) error {
	if a.authSink == nil {
		return nil
	}
	failures, err := a.authSink.FailedLoginsByIP(ctx, since)
	if err != nil {
		return err
	}

	for ip, count := range failures {
		if count <= bruteForceFailures {
			continue
		}
		inc := schema.SecurityIncident{
			Category:    schema.CategoryAuthentication,
			ThreatLevel: schema.ThreatHigh,
			Title:       "Potential Brute Force Attack",
			Description: fmt.Sprintf("%d failed login attempts from %s in the last hour", count, ip),
			SourceIP:    ip,
			Indicators: map[string]schema.Value{
				"failure_count": schema.IntValue(count),
				"window":        schema.StringValue("1h"),
			},
		}
		if _, err := a.creator.Create(ctx, inc); err != nil {
			a.logger.Error("brute force incident creation failed", "ip", ip, "error", err)
		}
	}
	return nil
}

// detectAccessPatterns inspects per-ip request volume and endpoint spread.
// Volume and scanning incidents fire independently for the same ip.
func (a *Analyzer) detectAccessPatterns(ctx context.Context, since time.Time) error {
	if a.accessSink == nil {
		return nil
	}
	stats, err := a.accessSink.StatsByIP(ctx, since)
	if err != nil {
		return err
	}

	for _, st := range stats {
		if st.RequestCount <= volumeMinRequests {
			continue
		}

		if st.RequestCount > volumeThreshold {
			inc := schema.SecurityIncident{
				Category:    schema.CategoryAPIUsage,
				ThreatLevel: schema.ThreatMedium,
				Title:       "High Volume API Access",
				Description: fmt.Sprintf("%d API requests from %s in the last hour", st.RequestCount, st.IP),
				SourceIP:    st.IP,
				Indicators: map[string]schema.Value{
					"request_count":     schema.IntValue(st.RequestCount),
					"avg_response_time": schema.NumberValue(st.AvgResponseTimeMS),
				},
			}
			if _, err := a.creator.Create(ctx, inc); err != nil {
				a.logger.Error("volume incident creation failed", "ip", st.IP, "error", err)
			}
		}

		if st.UniqueEndpoints > scanningEndpoints {
			inc := schema.SecurityIncident{
				Category:    schema.CategoryAPIUsage,
				ThreatLevel: schema.ThreatHigh,
				Title:       "Potential API Scanning",
				Description: fmt.Sprintf("%s accessed %d distinct endpoints in the last hour", st.IP, st.UniqueEndpoints),
				SourceIP:    st.IP,
				Indicators: map[string]schema.Value{
					"unique_endpoints":  schema.IntValue(st.UniqueEndpoints),
					"scanning_behavior": schema.BoolValue(true),
				},
			}
			if _, err := a.creator.Create(ctx, inc); err != nil {
				a.logger.Error("scanning incident creation failed", "ip", st.IP, "error", err)
			}
		}
	}
	return nil
}

// detectExfiltration raises one incident per (user, ip) pair whose large
// response transfers sum past exfilTotalBytes in the window.
func (a *Analyzer) detectExfiltration(ctx context.Context, since time.Time) error {
	if a.accessSink == nil {
		return nil
	}
	transfers, err := a.accessSink.LargeTransfers(ctx, since, exfilRowBytes)
	if err != nil {
		return err
	}

	for _, tr := range transfers {
		if tr.TotalBytes <= exfilTotalBytes {
			continue
		}
		mb := float64(tr.TotalBytes) / (1 << 20)
		inc := schema.SecurityIncident{
			Category:    schema.CategoryDataAccess,
			ThreatLevel: schema.ThreatHigh,
			Title:       "Potential Data Exfiltration",
			Description: fmt.Sprintf("%.1f MB transferred to %s in the last hour", mb, tr.IP),
			SourceIP:    tr.IP,
			UserID:      tr.UserID,
			Indicators: map[string]schema.Value{
				"data_transferred_mb": schema.NumberValue(mb),
			},
		}
		if _, err := a.creator.Create(ctx, inc); err != nil {
			a.logger.Error("exfiltration incident creation failed", "ip", tr.IP, "error", err)
		}
	}
	return nil
}
