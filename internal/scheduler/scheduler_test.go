package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTicker fires only when the test pushes a tick.
type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { f.stopped.Store(true) }

// fakeClock hands out one fakeTicker per NewTicker call, keyed by order.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) NewTicker(time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// tick fires ticker i and waits for delivery.
func (f *fakeClock) tick(i int) {
	f.mu.Lock()
	t := f.tickers[i]
	f.mu.Unlock()
	t.ch <- f.Now()
}

func (f *fakeClock) waitForTickers(t *testing.T, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		f.mu.Lock()
		got := len(f.tickers)
		f.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("tickers created = %d, want %d", got, n)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestScheduler_RunsJobsOnIndependentCadences(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, testLogger())

	var samples, analyses atomic.Int64
	s.Add(Job{Name: "sample", Interval: time.Minute, Run: func(context.Context) { samples.Add(1) }})
	s.Add(Job{Name: "analyze", Interval: 5 * time.Minute, Run: func(context.Context) { analyses.Add(1) }})
	s.Start()
	defer s.Stop(time.Second)

	clock.waitForTickers(t, 2)

	for i := 0; i < 3; i++ {
		clock.tick(0)
	}
	clock.tick(1)

	waitFor(t, func() bool { return samples.Load() == 3 && analyses.Load() == 1 })
}

func TestScheduler_SingleFlight(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, testLogger())

	var concurrent, maxConcurrent atomic.Int64
	release := make(chan struct{})
	s.Add(Job{Name: "slow", Interval: time.Second, Run: func(context.Context) {
		n := concurrent.Add(1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		<-release
		concurrent.Add(-1)
	}})
	s.Start()

	clock.waitForTickers(t, 1)
	clock.tick(0)

	// A second tick queues in the channel but cannot start until the
	// first run returns.
	clock.mu.Lock()
	pending := clock.tickers[0]
	clock.mu.Unlock()
	select {
	case pending.ch <- clock.Now():
	default:
	}
	time.Sleep(20 * time.Millisecond)

	if maxConcurrent.Load() != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxConcurrent.Load())
	}
	close(release)
	s.Stop(time.Second)
}

func TestScheduler_JobPanicIsContained(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, testLogger())

	var after atomic.Int64
	s.Add(Job{Name: "flaky", Interval: time.Minute, Run: func(context.Context) {
		if after.Add(1) == 1 {
			panic("boom")
		}
	}})
	s.Start()
	defer s.Stop(time.Second)

	clock.waitForTickers(t, 1)
	clock.tick(0)
	clock.tick(0)

	waitFor(t, func() bool { return after.Load() == 2 })
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, testLogger())

	var runs atomic.Int64
	s.Add(Job{Name: "sample", Interval: time.Minute, Run: func(context.Context) { runs.Add(1) }})
	s.Start()
	clock.waitForTickers(t, 1)

	s.Stop(time.Second)

	clock.mu.Lock()
	stopped := clock.tickers[0].stopped.Load()
	clock.mu.Unlock()
	if !stopped {
		t.Error("ticker not stopped after Stop()")
	}
}

func TestScheduler_AddAfterStartIgnored(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, testLogger())
	s.Add(Job{Name: "a", Interval: time.Minute, Run: func(context.Context) {}})
	s.Start()
	defer s.Stop(time.Second)

	s.Add(Job{Name: "late", Interval: time.Minute, Run: func(context.Context) {}})

	clock.mu.Lock()
	n := len(clock.tickers)
	clock.mu.Unlock()
	if n != 1 {
		t.Errorf("tickers = %d, want 1 (late Add ignored)", n)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met before deadline")
		case <-time.After(2 * time.Millisecond):
		}
	}
}
