package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel-engine/internal/schema"
)

// Limiter suppresses repeated threshold alerts for the same (metric, threat
// level) pair within a rolling window. Allow returns true when an alert may
// fire. Implementations fail open: alerting is preferred over silence.
type Limiter interface {
	Allow(ctx context.Context, metric string, level schema.ThreatLevel) bool
}

// allowAll is the disabled limiter.
type allowAll struct{}

func (allowAll) Allow(context.Context, string, schema.ThreatLevel) bool { return true }

// NoLimit returns a limiter that never suppresses.
func NoLimit() Limiter { return allowAll{} }

// MemoryLimiter is a process-local Limiter.
type MemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// NewMemoryLimiter creates a MemoryLimiter with the given window. A zero or
// negative window disables suppression.
func NewMemoryLimiter(window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		window: window,
		last:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether an alert for the pair may fire, and records the
// firing time when it may.
func (l *MemoryLimiter) Allow(_ context.Context, metric string, level schema.ThreatLevel) bool {
	if l.window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := metric + "|" + string(level)
	now := l.now()
	if fired, ok := l.last[key]; ok && now.Sub(fired) < l.window {
		return false
	}
	l.last[key] = now

	// Expired entries are dropped opportunistically to keep the map small.
	for k, fired := range l.last {
		if now.Sub(fired) >= l.window {
			delete(l.last, k)
		}
	}
	return true
}

// RedisLimiter coordinates alert suppression across engine replicas using
// SETNX with a TTL equal to the window.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisLimiter creates a RedisLimiter and verifies connectivity.
func NewRedisLimiter(ctx context.Context, addr, password string, db int, window time.Duration, logger *slog.Logger) (*RedisLimiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis limiter: ping %s: %w", addr, err)
	}
	return &RedisLimiter{
		client: client,
		window: window,
		prefix: "sentinel:alert:",
		logger: logger,
	}, nil
}

// Allow acquires the suppression key for the pair. Redis failures are logged
// and the alert is allowed through.
func (l *RedisLimiter) Allow(ctx context.Context, metric string, level schema.ThreatLevel) bool {
	if l.window <= 0 {
		return true
	}

	key := l.prefix + metric + ":" + string(level)
	ok, err := l.client.SetNX(ctx, key, 1, l.window).Result()
	if err != nil {
		l.logger.Warn("alert dedup unavailable, allowing", "key", key, "error", err)
		return true
	}
	return ok
}

// Close releases the Redis connection.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
