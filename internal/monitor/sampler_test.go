package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHost struct {
	cpu, mem, disk float64
	conns          int
	cpuErr         error
}

func (f *fakeHost) CPUPercent(context.Context) (float64, error)    { return f.cpu, f.cpuErr }
func (f *fakeHost) MemoryPercent(context.Context) (float64, error) { return f.mem, nil }
func (f *fakeHost) DiskPercent(context.Context) (float64, error)   { return f.disk, nil }
func (f *fakeHost) ConnectionCount(context.Context) (int, error)   { return f.conns, nil }

type captureCreator struct {
	mu      sync.Mutex
	created []schema.SecurityIncident
}

func (c *captureCreator) Create(_ context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, inc)
	return inc, nil
}

func (c *captureCreator) all() []schema.SecurityIncident {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.SecurityIncident(nil), c.created...)
}

func newTestSampler(host HostStats, creator IncidentCreator, store storage.Sinks, limiter Limiter) (*Sampler, *History) {
	history := NewHistory(1440)
	return NewSampler(SamplerDeps{
		Host:       host,
		AuthSink:   store,
		AccessSink: store,
		MetricSink: store,
		Creator:    creator,
		History:    history,
		Thresholds: schema.DefaultThresholds(),
		Limiter:    limiter,
		Logger:     testLogger(),
	}), history
}

func TestSampler_ProducesSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	creator := &captureCreator{}
	sampler, history := newTestSampler(&fakeHost{cpu: 30, mem: 50, disk: 60, conns: 42}, creator, store, nil)

	// Two failed logins in the trailing hour, one stale.
	now := time.Now().UTC()
	store.AppendAuthEvent(context.Background(), schema.AuthEventRecord{Timestamp: now.Add(-5 * time.Minute), IP: "192.0.2.1"})
	store.AppendAuthEvent(context.Background(), schema.AuthEventRecord{Timestamp: now.Add(-10 * time.Minute), IP: "192.0.2.1"})
	store.AppendAuthEvent(context.Background(), schema.AuthEventRecord{Timestamp: now.Add(-2 * time.Hour), IP: "192.0.2.1"})

	snap := sampler.Sample(context.Background())

	if snap.CPUUsage != 30 || snap.MemoryUsage != 50 || snap.DiskUsage != 60 {
		t.Errorf("snapshot = %+v, want cpu=30 mem=50 disk=60", snap)
	}
	if snap.NetworkConnections != 42 {
		t.Errorf("NetworkConnections = %d, want 42", snap.NetworkConnections)
	}
	if snap.FailedLoginsLastHour != 2 {
		t.Errorf("FailedLoginsLastHour = %d, want 2", snap.FailedLoginsLastHour)
	}

	if history.Len() != 1 {
		t.Errorf("history length = %d, want 1", history.Len())
	}
	if len(creator.all()) != 0 {
		t.Errorf("incidents created = %d, want 0 below thresholds", len(creator.all()))
	}
}

func TestSampler_CPUViolationRaisesOneIncident(t *testing.T) {
	creator := &captureCreator{}
	sampler, _ := newTestSampler(&fakeHost{cpu: 86, mem: 50, disk: 60, conns: 10}, creator, storage.NewMemoryStore(), nil)

	sampler.Sample(context.Background())

	created := creator.all()
	if len(created) != 1 {
		t.Fatalf("incidents created = %d, want exactly 1", len(created))
	}
	metric, _ := created[0].Indicators["metric"].AsString()
	if metric != schema.MetricCPUUsage {
		t.Errorf("incident metric = %q, want cpu_usage", metric)
	}
}

func TestSampler_CounterFailureDefaultsToZero(t *testing.T) {
	creator := &captureCreator{}
	host := &fakeHost{cpu: 90, cpuErr: errors.New("procfs unavailable"), mem: 50}
	sampler, history := newTestSampler(host, creator, storage.NewMemoryStore(), nil)

	snap := sampler.Sample(context.Background())

	if snap.CPUUsage != 0 {
		t.Errorf("CPUUsage = %v, want 0 after read failure", snap.CPUUsage)
	}
	if history.Len() != 1 {
		t.Error("tick did not produce a snapshot despite counter failure")
	}
	if len(creator.all()) != 0 {
		t.Errorf("incidents created = %d, want 0 when the violating counter failed", len(creator.all()))
	}
}

func TestSampler_AppendHappensBeforeEvaluate(t *testing.T) {
	history := NewHistory(10)
	var lenAtCreate int
	creator := creatorFunc(func(_ context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error) {
		lenAtCreate = history.Len()
		return inc, nil
	})

	sampler := NewSampler(SamplerDeps{
		Host:       &fakeHost{cpu: 99},
		Creator:    creator,
		History:    history,
		Thresholds: schema.DefaultThresholds(),
		Logger:     testLogger(),
	})
	sampler.Sample(context.Background())

	if lenAtCreate != 1 {
		t.Errorf("history length at incident creation = %d, want 1 (append before evaluate)", lenAtCreate)
	}
}

type creatorFunc func(context.Context, schema.SecurityIncident) (schema.SecurityIncident, error)

func (f creatorFunc) Create(ctx context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error) {
	return f(ctx, inc)
}

func TestSampler_LimiterSuppressesRepeats(t *testing.T) {
	creator := &captureCreator{}
	limiter := NewMemoryLimiter(15 * time.Minute)
	sampler, _ := newTestSampler(&fakeHost{cpu: 95}, creator, storage.NewMemoryStore(), limiter)

	ctx := context.Background()
	sampler.Sample(ctx)
	sampler.Sample(ctx)
	sampler.Sample(ctx)

	if n := len(creator.all()); n != 1 {
		t.Errorf("incidents created = %d, want 1 within the dedup window", n)
	}
}

func TestMemoryLimiter(t *testing.T) {
	limiter := NewMemoryLimiter(15 * time.Minute)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if !limiter.Allow(ctx, "cpu_usage", schema.ThreatMedium) {
		t.Error("first Allow() = false, want true")
	}
	if limiter.Allow(ctx, "cpu_usage", schema.ThreatMedium) {
		t.Error("repeat Allow() inside window = true, want false")
	}
	// Different metric is tracked independently.
	if !limiter.Allow(ctx, "memory_usage", schema.ThreatMedium) {
		t.Error("Allow() for distinct metric = false, want true")
	}

	now = now.Add(16 * time.Minute)
	if !limiter.Allow(ctx, "cpu_usage", schema.ThreatMedium) {
		t.Error("Allow() after window expiry = false, want true")
	}
}

func TestMemoryLimiter_ZeroWindowDisables(t *testing.T) {
	limiter := NewMemoryLimiter(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if !limiter.Allow(ctx, "cpu_usage", schema.ThreatMedium) {
			t.Fatal("zero-window limiter suppressed an alert")
		}
	}
}

func TestHistory_Bounded(t *testing.T) {
	history := NewHistory(1440)
	base := time.Now().UTC()

	for i := 0; i < 2000; i++ {
		history.Append(schema.MetricSnapshot{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	if history.Len() != 1440 {
		t.Fatalf("Len() = %d, want 1440", history.Len())
	}

	snaps := history.Snapshot()
	// Strictly chronological after eviction.
	for i := 1; i < len(snaps); i++ {
		if !snaps[i].Timestamp.After(snaps[i-1].Timestamp) {
			t.Fatalf("snapshots out of order at %d", i)
		}
	}
	if !snaps[0].Timestamp.Equal(base.Add(560 * time.Minute)) {
		t.Errorf("oldest retained = %v, want %v", snaps[0].Timestamp, base.Add(560*time.Minute))
	}
}

func TestCleaner_Run(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// Durable rows straddling both cutoffs.
	store.AppendIncident(ctx, schema.SecurityIncident{ID: "inc-old", Timestamp: now.Add(-31 * 24 * time.Hour)})
	store.AppendIncident(ctx, schema.SecurityIncident{ID: "inc-new", Timestamp: now.Add(-time.Hour)})
	store.AppendMetric(ctx, schema.MetricSnapshot{Timestamp: now.Add(-8 * 24 * time.Hour)})
	store.AppendMetric(ctx, schema.MetricSnapshot{Timestamp: now.Add(-time.Hour)})

	expirer := &fakeExpirer{}
	cleaner := NewCleaner(CleanerConfig{}, expirer, store, nil, testLogger())
	cleaner.Run(ctx)

	if !expirer.called {
		t.Error("Run() did not expire the in-memory working set")
	}
	if got := store.Incidents(); len(got) != 1 || got[0].ID != "inc-new" {
		t.Errorf("durable incidents after cleanup = %v, want only inc-new", got)
	}
}

func TestCleaner_ArchiveFailureSkipsPurge(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	store.AppendIncident(ctx, schema.SecurityIncident{ID: "inc-old", Timestamp: now.Add(-31 * 24 * time.Hour)})

	expirer := &fakeExpirer{expired: []schema.SecurityIncident{{ID: "inc-old"}}}
	archiver := archiverFunc(func(context.Context, []schema.SecurityIncident, time.Time) error {
		return errors.New("bucket unavailable")
	})

	cleaner := NewCleaner(CleanerConfig{}, expirer, store, archiver, testLogger())
	cleaner.Run(ctx)

	if len(store.Incidents()) != 1 {
		t.Error("durable purge ran despite archive failure")
	}
}

type fakeExpirer struct {
	called  bool
	expired []schema.SecurityIncident
}

func (f *fakeExpirer) RemoveOlderThan(time.Time) []schema.SecurityIncident {
	f.called = true
	return f.expired
}

type archiverFunc func(context.Context, []schema.SecurityIncident, time.Time) error

func (f archiverFunc) ArchiveIncidents(ctx context.Context, incs []schema.SecurityIncident, cutoff time.Time) error {
	return f(ctx, incs, cutoff)
}
