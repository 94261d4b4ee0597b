package monitor

import (
	"fmt"

	"sentinel-engine/internal/schema"
)

// Evaluate compares a snapshot against the configured thresholds and returns
// one incident per violated metric. Pure: no deduplication, no side effects.
// Metrics absent from thresholds are never checked.
func Evaluate(snap schema.MetricSnapshot, thresholds schema.Thresholds) []schema.SecurityIncident {
	var out []schema.SecurityIncident

	for _, name := range schema.MetricNames {
		limit, configured := thresholds[name]
		if !configured {
			continue
		}
		value, ok := snap.MetricValue(name)
		if !ok || value <= limit {
			continue
		}

		indicators := snap.Indicators()
		indicators["metric"] = schema.StringValue(name)
		indicators["threshold"] = schema.NumberValue(limit)

		out = append(out, schema.SecurityIncident{
			Timestamp:   snap.Timestamp,
			Category:    schema.CategorySystemResources,
			ThreatLevel: schema.ThreatMedium,
			Title:       "System Resource Threshold Exceeded",
			Description: fmt.Sprintf("%s is %g, above the configured limit of %g", name, value, limit),
			Indicators:  indicators,
		})
	}
	return out
}
