package monitor

import (
	"strings"
	"testing"
	"time"

	"sentinel-engine/internal/schema"
)

func baselineSnapshot() schema.MetricSnapshot {
	return schema.MetricSnapshot{
		Timestamp:             time.Now().UTC(),
		CPUUsage:              20,
		MemoryUsage:           40,
		DiskUsage:             50,
		NetworkConnections:    100,
		FailedLoginsLastHour:  2,
		APIRequestsLastMinute: 50,
	}
}

func TestEvaluate_NoViolations(t *testing.T) {
	got := Evaluate(baselineSnapshot(), schema.DefaultThresholds())
	if len(got) != 0 {
		t.Errorf("Evaluate() produced %d incidents, want 0", len(got))
	}
}

func TestEvaluate_SingleCPUViolation(t *testing.T) {
	snap := baselineSnapshot()
	snap.CPUUsage = 86

	got := Evaluate(snap, schema.DefaultThresholds())
	if len(got) != 1 {
		t.Fatalf("Evaluate() produced %d incidents, want 1", len(got))
	}

	inc := got[0]
	if inc.ThreatLevel != schema.ThreatMedium {
		t.Errorf("ThreatLevel = %q, want medium", inc.ThreatLevel)
	}
	if inc.Category != schema.CategorySystemResources {
		t.Errorf("Category = %q, want system_resources", inc.Category)
	}
	if inc.Title != "System Resource Threshold Exceeded" {
		t.Errorf("Title = %q", inc.Title)
	}
	if !strings.Contains(inc.Description, schema.MetricCPUUsage) {
		t.Errorf("Description %q does not name cpu_usage", inc.Description)
	}

	metric, _ := inc.Indicators["metric"].AsString()
	if metric != schema.MetricCPUUsage {
		t.Errorf("indicators[metric] = %q, want cpu_usage", metric)
	}
	// Full snapshot carried as evidence.
	if v, ok := inc.Indicators[schema.MetricMemoryUsage].AsNumber(); !ok || v != 40 {
		t.Errorf("indicators[memory_usage] = %v, want 40", v)
	}
}

func TestEvaluate_ValueAtThresholdDoesNotFire(t *testing.T) {
	snap := baselineSnapshot()
	snap.CPUUsage = 85 // exactly at the limit

	if got := Evaluate(snap, schema.DefaultThresholds()); len(got) != 0 {
		t.Errorf("Evaluate() at threshold produced %d incidents, want 0", len(got))
	}
}

func TestEvaluate_MultipleViolations(t *testing.T) {
	snap := baselineSnapshot()
	snap.CPUUsage = 90
	snap.FailedLoginsLastHour = 11
	snap.APIRequestsLastMinute = 1500

	got := Evaluate(snap, schema.DefaultThresholds())
	if len(got) != 3 {
		t.Fatalf("Evaluate() produced %d incidents, want 3", len(got))
	}

	seen := make(map[string]bool)
	for _, inc := range got {
		metric, _ := inc.Indicators["metric"].AsString()
		seen[metric] = true
	}
	for _, want := range []string{
		schema.MetricCPUUsage,
		schema.MetricFailedLoginsLastHour,
		schema.MetricAPIRequestsLastMinute,
	} {
		if !seen[want] {
			t.Errorf("no incident for %s", want)
		}
	}
}

func TestEvaluate_UnconfiguredMetricIgnored(t *testing.T) {
	snap := baselineSnapshot()
	snap.CPUUsage = 99

	thresholds := schema.Thresholds{schema.MetricMemoryUsage: 90}
	if got := Evaluate(snap, thresholds); len(got) != 0 {
		t.Errorf("Evaluate() checked an unconfigured metric, got %d incidents", len(got))
	}
}
