// Package scheduler drives the engine's periodic jobs: metric sampling,
// pattern analysis, alert review, and retention cleanup. Each job runs on
// its own ticker, so cadences are independent and a job never overlaps
// with itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ticker abstracts time.Ticker for deterministic tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers and reads the current time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

// SystemClock returns the wall clock.
func SystemClock() Clock { return realClock{} }

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler runs registered jobs until stopped.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []Job
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. A nil clock uses the system clock.
func New(clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:  clock,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Error("job added after scheduler start, ignoring", "job", job.Name)
		return
	}
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runLoop(job)
		s.logger.Info("job scheduled", "job", job.Name, "interval", job.Interval)
	}
}

func (s *Scheduler) runLoop(job Job) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			s.runOnce(job)
		}
	}
}

// runOnce executes the job, recovering panics so a broken job cannot take
// down the loop.
func (s *Scheduler) runOnce(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", job.Name, "panic", r)
		}
	}()

	start := s.clock.Now()
	job.Run(s.ctx)
	s.logger.Debug("job completed", "job", job.Name, "duration", s.clock.Now().Sub(start))
}

// Stop cancels all job loops and waits up to grace for in-flight runs, then
// abandons them.
func (s *Scheduler) Stop(grace time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("scheduler shutdown grace expired, abandoning jobs")
	}
}
