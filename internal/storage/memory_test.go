package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sentinel-engine/internal/schema"
)

func TestMemoryStore_StatsByIP(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	// 3 requests from one IP across 2 endpoints, 1 from another.
	records := []schema.APIAccessRecord{
		{Timestamp: now, IP: "10.0.0.1", Endpoint: "/v1/models", ResponseTimeMS: 100},
		{Timestamp: now, IP: "10.0.0.1", Endpoint: "/v1/models", ResponseTimeMS: 200},
		{Timestamp: now, IP: "10.0.0.1", Endpoint: "/v1/completions", ResponseTimeMS: 300},
		{Timestamp: now, IP: "10.0.0.2", Endpoint: "/v1/models", ResponseTimeMS: 50},
		// Outside the window.
		{Timestamp: now.Add(-2 * time.Hour), IP: "10.0.0.1", Endpoint: "/v1/old"},
	}
	for _, rec := range records {
		if err := store.AppendAccess(ctx, rec); err != nil {
			t.Fatalf("AppendAccess() error = %v", err)
		}
	}

	stats, err := store.StatsByIP(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("StatsByIP() error = %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("StatsByIP() returned %d entries, want 2", len(stats))
	}

	// Sorted by request count descending.
	if stats[0].IP != "10.0.0.1" || stats[0].RequestCount != 3 || stats[0].UniqueEndpoints != 2 {
		t.Errorf("stats[0] = %+v, want IP=10.0.0.1 requests=3 endpoints=2", stats[0])
	}
	if stats[0].AvgResponseTimeMS != 200 {
		t.Errorf("stats[0].AvgResponseTimeMS = %v, want 200", stats[0].AvgResponseTimeMS)
	}
	if stats[1].IP != "10.0.0.2" || stats[1].RequestCount != 1 {
		t.Errorf("stats[1] = %+v, want IP=10.0.0.2 requests=1", stats[1])
	}
}

func TestMemoryStore_LargeTransfers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	const mb = 1024 * 1024
	records := []schema.APIAccessRecord{
		{Timestamp: now, IP: "10.0.0.1", UserID: "u1", ResponseSize: 2 * mb},
		{Timestamp: now, IP: "10.0.0.1", UserID: "u1", ResponseSize: 3 * mb},
		// At the threshold, not above it.
		{Timestamp: now, IP: "10.0.0.1", UserID: "u1", ResponseSize: mb},
		{Timestamp: now, IP: "10.0.0.2", UserID: "u2", ResponseSize: 5 * mb},
	}
	for _, rec := range records {
		if err := store.AppendAccess(ctx, rec); err != nil {
			t.Fatalf("AppendAccess() error = %v", err)
		}
	}

	transfers, err := store.LargeTransfers(ctx, now.Add(-time.Hour), mb)
	if err != nil {
		t.Fatalf("LargeTransfers() error = %v", err)
	}
	if len(transfers) != 2 {
		t.Fatalf("LargeTransfers() returned %d entries, want 2", len(transfers))
	}

	for _, tr := range transfers {
		switch tr.IP {
		case "10.0.0.1":
			if tr.TotalBytes != 5*mb || tr.RowCount != 2 {
				t.Errorf("10.0.0.1 transfer = %+v, want total=%d rows=2", tr, 5*mb)
			}
		case "10.0.0.2":
			if tr.TotalBytes != 5*mb || tr.RowCount != 1 {
				t.Errorf("10.0.0.2 transfer = %+v, want total=%d rows=1", tr, 5*mb)
			}
		default:
			t.Errorf("unexpected IP %q", tr.IP)
		}
	}
}

func TestMemoryStore_FailedLogins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 5; i++ {
		rec := schema.AuthEventRecord{
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			EventType: "login",
			IP:        "192.0.2.10",
			Success:   false,
		}
		if err := store.AppendAuthEvent(ctx, rec); err != nil {
			t.Fatalf("AppendAuthEvent() error = %v", err)
		}
	}
	// Successful logins do not count.
	store.AppendAuthEvent(ctx, schema.AuthEventRecord{
		Timestamp: now, EventType: "login", IP: "192.0.2.10", Success: true,
	})
	// Stale failure outside the window.
	store.AppendAuthEvent(ctx, schema.AuthEventRecord{
		Timestamp: now.Add(-2 * time.Hour), EventType: "login", IP: "192.0.2.10", Success: false,
	})

	byIP, err := store.FailedLoginsByIP(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("FailedLoginsByIP() error = %v", err)
	}
	if byIP["192.0.2.10"] != 5 {
		t.Errorf("FailedLoginsByIP()[192.0.2.10] = %d, want 5", byIP["192.0.2.10"])
	}

	total, err := store.CountFailedLogins(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountFailedLogins() error = %v", err)
	}
	if total != 5 {
		t.Errorf("CountFailedLogins() = %d, want 5", total)
	}
}

func TestMemoryStore_Purge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	for i := 0; i < 10; i++ {
		ts := now.Add(-time.Duration(i) * 24 * time.Hour)
		store.AppendIncident(ctx, schema.SecurityIncident{
			ID:        fmt.Sprintf("inc-%d", i),
			Timestamp: ts,
		})
		store.AppendMetric(ctx, schema.MetricSnapshot{Timestamp: ts})
		store.AppendAccess(ctx, schema.APIAccessRecord{Timestamp: ts, IP: "10.0.0.1"})
		store.AppendAuthEvent(ctx, schema.AuthEventRecord{Timestamp: ts, IP: "10.0.0.1"})
	}

	cutoff := now.Add(-5 * 24 * time.Hour)

	t.Run("incidents", func(t *testing.T) {
		removed, err := store.PurgeIncidentsBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("PurgeIncidentsBefore() error = %v", err)
		}
		if removed != 4 {
			t.Errorf("removed = %d, want 4", removed)
		}
		if n := len(store.Incidents()); n != 6 {
			t.Errorf("remaining incidents = %d, want 6", n)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		removed, err := store.PurgeMetricsBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("PurgeMetricsBefore() error = %v", err)
		}
		if removed != 4 {
			t.Errorf("removed = %d, want 4", removed)
		}
	})

	t.Run("access and auth", func(t *testing.T) {
		removedAccess, err := store.PurgeAccessBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("PurgeAccessBefore() error = %v", err)
		}
		removedAuth, err := store.PurgeAuthBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("PurgeAuthBefore() error = %v", err)
		}
		if removedAccess != 4 || removedAuth != 4 {
			t.Errorf("removed = (%d, %d), want (4, 4)", removedAccess, removedAuth)
		}
	})
}

func TestSinkErrors(t *testing.T) {
	t.Run("transient wraps", func(t *testing.T) {
		err := WrapTransientError("AppendIncident", TableIncidents, fmt.Errorf("broken pipe"))
		if !IsTransient(err) {
			t.Error("IsTransient() = false for wrapped transient error")
		}
		if IsNotFound(err) {
			t.Error("IsNotFound() = true for transient error")
		}
	})

	t.Run("not configured", func(t *testing.T) {
		err := NewSinkError("Connect", "", ErrNotConfigured)
		if !IsNotConfigured(err) {
			t.Error("IsNotConfigured() = false for wrapped ErrNotConfigured")
		}
	})

	t.Run("error message includes table", func(t *testing.T) {
		err := NewSinkError("AppendAccess", TableAccessLog, fmt.Errorf("boom"))
		want := "storage.AppendAccess(api_access_log): boom"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})
}
