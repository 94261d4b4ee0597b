package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sentinel-engine/internal/schema"
)

// DeliveryResult is the outcome of one channel attempt.
type DeliveryResult struct {
	Channel  string        `json:"channel"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Dispatcher fans one incident out to every configured channel. Only high
// and critical incidents are forwarded; each channel gets its own timeout
// and its failure never affects the others.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	logger   *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a Dispatcher. A zero timeout defaults to 10s.
func NewDispatcher(channels []Channel, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}
}

// Notify attempts delivery on every channel and returns per-channel results.
// Incidents below high severity are skipped entirely.
func (d *Dispatcher) Notify(inc schema.SecurityIncident) []DeliveryResult {
	if !inc.ThreatLevel.Escalates() {
		return nil
	}

	results := make([]DeliveryResult, len(d.channels))
	var wg sync.WaitGroup
	for i, ch := range d.channels {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = d.send(ch, inc)
		}(i, ch)
	}
	wg.Wait()
	return results
}

// Dispatch is the fire-and-forget form used by the incident store: it
// returns immediately and delivers in the background.
func (d *Dispatcher) Dispatch(inc schema.SecurityIncident) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.Notify(inc)
	}()
}

func (d *Dispatcher) send(ch Channel, inc schema.SecurityIncident) DeliveryResult {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := ch.Send(ctx, inc)
	result := DeliveryResult{
		Channel:  ch.Name(),
		Success:  err == nil,
		Duration: time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
		d.logger.Error("notification delivery failed",
			"channel", ch.Name(),
			"incident", inc.ID,
			"error", err,
		)
	} else {
		d.logger.Info("notification delivered",
			"channel", ch.Name(),
			"incident", inc.ID,
			"duration", result.Duration,
		)
	}
	return result
}

// Close stops accepting new dispatches and waits up to grace for in-flight
// deliveries, then abandons them.
func (d *Dispatcher) Close(grace time.Duration) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		d.logger.Warn("notification shutdown grace expired, abandoning deliveries")
	}
}
