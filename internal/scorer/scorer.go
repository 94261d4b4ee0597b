// Package scorer assigns a heuristic risk score to completed API requests
// and raises incidents for high-risk ones on a background path so the
// request handler never waits.
package scorer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-engine/internal/schema"
)

// Scoring rule weights.
const (
	slowResponseMS   = 5000
	slowWeight       = 0.2
	largeRequestSize = 10 * 1024 * 1024
	largeWeight      = 0.3
	agentWeight      = 0.4
)

// suspiciousAgents are matched case-insensitively as substrings.
var suspiciousAgents = []string{"bot", "crawler", "scanner", "curl", "wget"}

// Request carries the fields of one completed request that scoring and
// incident attribution need.
type Request struct {
	Endpoint       string
	Method         string
	SourceIP       string
	UserID         string
	UserAgent      string
	ResponseTimeMS float64
	RequestSize    int64
	ResponseSize   int64
}

// Score computes the heuristic risk score in [0, 1]. Pure.
func Score(r Request) float64 {
	score := 0.0
	if r.ResponseTimeMS > slowResponseMS {
		score += slowWeight
	}
	if r.RequestSize > largeRequestSize {
		score += largeWeight
	}
	agent := strings.ToLower(r.UserAgent)
	for _, marker := range suspiciousAgents {
		if strings.Contains(agent, marker) {
			score += agentWeight
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// IncidentCreator accepts incidents raised by the scorer.
type IncidentCreator interface {
	Create(ctx context.Context, inc schema.SecurityIncident) (schema.SecurityIncident, error)
}

// Config holds scorer settings.
type Config struct {
	// QueueSize bounds the pending request channel.
	QueueSize int

	// IncidentThreshold is the score above which an incident is raised.
	IncidentThreshold float64

	// HighThreshold is the score above which the incident is high severity
	// instead of medium.
	HighThreshold float64
}

// Scorer scores requests on a single background worker fed through a
// bounded channel. Submit never blocks; requests are dropped when the
// queue is full.
type Scorer struct {
	cfg     Config
	ch      chan Request
	creator IncidentCreator
	logger  *slog.Logger

	wg      sync.WaitGroup
	stop    chan struct{}
	stopped atomic.Bool
	dropped atomic.Uint64
}

// New creates a Scorer. Call Start before submitting.
func New(cfg Config, creator IncidentCreator, logger *slog.Logger) *Scorer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.IncidentThreshold <= 0 {
		cfg.IncidentThreshold = 0.7
	}
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = 0.8
	}
	return &Scorer{
		cfg:     cfg,
		ch:      make(chan Request, cfg.QueueSize),
		creator: creator,
		logger:  logger,
		stop:    make(chan struct{}),
	}
}

// Start launches the scoring worker.
func (s *Scorer) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scorer) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.ch:
			s.process(req)
		case <-s.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case req := <-s.ch:
					s.process(req)
				default:
					return
				}
			}
		}
	}
}

// Submit enqueues a request for scoring. Never blocks: returns false and
// drops the request when the queue is full or the scorer is stopped.
func (s *Scorer) Submit(req Request) bool {
	if s.stopped.Load() {
		return false
	}
	select {
	case s.ch <- req:
		return true
	default:
		if n := s.dropped.Add(1); n%1000 == 1 {
			s.logger.Warn("scorer queue full, dropping requests", "dropped_total", n)
		}
		return false
	}
}

// Dropped returns the number of requests dropped due to backpressure.
func (s *Scorer) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Scorer) process(req Request) {
	score := Score(req)
	if score <= s.cfg.IncidentThreshold {
		return
	}

	level := schema.ThreatMedium
	if score > s.cfg.HighThreshold {
		level = schema.ThreatHigh
	}

	inc := schema.SecurityIncident{
		Category:    schema.CategoryAPIUsage,
		ThreatLevel: level,
		Title:       "Suspicious API Access Detected",
		Description: "Request scored above the suspicion threshold",
		SourceIP:    req.SourceIP,
		UserID:      req.UserID,
		Indicators: map[string]schema.Value{
			"score":            schema.NumberValue(score),
			"endpoint":         schema.StringValue(req.Endpoint),
			"method":           schema.StringValue(req.Method),
			"user_agent":       schema.StringValue(req.UserAgent),
			"response_time_ms": schema.NumberValue(req.ResponseTimeMS),
			"request_size":     schema.IntValue(int(req.RequestSize)),
			"response_size":    schema.IntValue(int(req.ResponseSize)),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.creator.Create(ctx, inc); err != nil {
		s.logger.Error("suspicious request incident creation failed", "error", err)
	}
}

// Close stops accepting requests and waits for the worker to drain, up to
// the grace period.
func (s *Scorer) Close(grace time.Duration) {
	if s.stopped.Swap(true) {
		return
	}
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("scorer shutdown grace expired, abandoning worker")
	}
}
