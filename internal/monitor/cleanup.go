package monitor

import (
	"context"
	"log/slog"
	"time"

	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

// incidentExpirer removes aged incidents from the in-memory working set.
type incidentExpirer interface {
	RemoveOlderThan(cutoff time.Time) []schema.SecurityIncident
}

// Archiver uploads expired incidents before the durable purge discards them.
type Archiver interface {
	ArchiveIncidents(ctx context.Context, incidents []schema.SecurityIncident, cutoff time.Time) error
}

// CleanerConfig holds the retention windows.
type CleanerConfig struct {
	IncidentAge time.Duration
	MetricAge   time.Duration
}

// Cleaner enforces retention: incidents past IncidentAge, metrics and log
// rows past MetricAge. Runs on the hourly scheduler cadence.
type Cleaner struct {
	cfg       CleanerConfig
	incidents incidentExpirer
	sinks     storage.Sinks
	archiver  Archiver
	logger    *slog.Logger
	now       func() time.Time
}

// NewCleaner creates a Cleaner. sinks and archiver may be nil.
func NewCleaner(cfg CleanerConfig, incidents incidentExpirer, sinks storage.Sinks, archiver Archiver, logger *slog.Logger) *Cleaner {
	if cfg.IncidentAge <= 0 {
		cfg.IncidentAge = 30 * 24 * time.Hour
	}
	if cfg.MetricAge <= 0 {
		cfg.MetricAge = 7 * 24 * time.Hour
	}
	return &Cleaner{
		cfg:       cfg,
		incidents: incidents,
		sinks:     sinks,
		archiver:  archiver,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one retention pass. Sink purge failures are logged and the
// affected rows are retried on the next pass.
func (c *Cleaner) Run(ctx context.Context) {
	now := c.now().UTC()
	incidentCutoff := now.Add(-c.cfg.IncidentAge)
	metricCutoff := now.Add(-c.cfg.MetricAge)

	expired := c.incidents.RemoveOlderThan(incidentCutoff)
	if len(expired) > 0 {
		c.logger.Info("expired incidents removed from working set",
			"count", len(expired), "cutoff", incidentCutoff)
	}

	if c.archiver != nil && len(expired) > 0 {
		if err := c.archiver.ArchiveIncidents(ctx, expired, incidentCutoff); err != nil {
			// The durable purge is skipped so the rows stay recoverable;
			// the next pass retries the archive.
			c.logger.Error("incident archive failed, skipping durable purge", "error", err)
			return
		}
	}

	if c.sinks == nil {
		return
	}

	if n, err := c.sinks.PurgeIncidentsBefore(ctx, incidentCutoff); err != nil {
		c.logger.Error("incident purge failed", "error", err)
	} else if n > 0 {
		c.logger.Info("purged incident rows", "count", n)
	}

	if n, err := c.sinks.PurgeMetricsBefore(ctx, metricCutoff); err != nil {
		c.logger.Error("metric purge failed", "error", err)
	} else if n > 0 {
		c.logger.Info("purged metric rows", "count", n)
	}

	if n, err := c.sinks.PurgeAccessBefore(ctx, metricCutoff); err != nil {
		c.logger.Error("access log purge failed", "error", err)
	} else if n > 0 {
		c.logger.Info("purged access log rows", "count", n)
	}

	if n, err := c.sinks.PurgeAuthBefore(ctx, metricCutoff); err != nil {
		c.logger.Error("auth event purge failed", "error", err)
	} else if n > 0 {
		c.logger.Info("purged auth event rows", "count", n)
	}
}
