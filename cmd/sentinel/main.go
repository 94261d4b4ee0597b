// Package main is the entry point for the sentinel security monitoring
// engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-engine/internal/alerting"
	"sentinel-engine/internal/analyzer"
	"sentinel-engine/internal/api"
	"sentinel-engine/internal/config"
	"sentinel-engine/internal/dashboard"
	"sentinel-engine/internal/incident"
	"sentinel-engine/internal/monitor"
	"sentinel-engine/internal/scheduler"
	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/scorer"
	"sentinel-engine/internal/storage"
)

var version = "dev"

const shutdownGrace = 5 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("sentinel %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_enabled", cfg.Auth.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"redis_enabled", cfg.Redis.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable sinks. The engine degrades to memory-only when ClickHouse is
	// disabled or unreachable so monitoring never stops.
	sinks, chStore := openSinks(ctx, cfg, logger)

	// Notification channels.
	channels, kafkaChannel := buildChannels(cfg.Alerting, logger)
	dispatcher := alerting.NewDispatcher(channels, cfg.Alerting.DeliveryTimeout, logger)

	store := incident.NewStore(incident.StoreConfig{
		MaxIncidents: cfg.Incidents.MaxIncidents,
	}, sinks, dispatcher, logger)

	history := monitor.NewHistory(cfg.Monitoring.HistorySize)

	limiter := openLimiter(ctx, cfg, logger)

	sampler := monitor.NewSampler(monitor.SamplerDeps{
		Host:       monitor.NewGopsutilStats(),
		AuthSink:   sinks,
		AccessSink: sinks,
		MetricSink: sinks,
		Incidents:  store,
		Creator:    store,
		History:    history,
		Thresholds: cfg.Monitoring.Thresholds,
		Limiter:    limiter,
		Logger:     logger,
	})

	patterns := analyzer.New(sinks, sinks, store, logger)

	reqScorer := scorer.New(scorer.Config{
		QueueSize:         cfg.Scorer.QueueSize,
		IncidentThreshold: cfg.Scorer.IncidentThreshold,
		HighThreshold:     cfg.Scorer.HighThreshold,
	}, store, logger)
	reqScorer.Start()

	var archiver monitor.Archiver
	if cfg.Retention.S3Archive.Enabled {
		s3arch, err := storage.NewS3Archiver(ctx, cfg.Retention.S3Archive, logger)
		if err != nil {
			logger.Error("s3 archiver init failed", "error", err)
			os.Exit(1)
		}
		archiver = s3arch
	}
	cleaner := monitor.NewCleaner(monitor.CleanerConfig{
		IncidentAge: cfg.Retention.IncidentAge,
		MetricAge:   cfg.Retention.MetricAge,
	}, store, sinks, archiver, logger)

	// Periodic jobs.
	sched := scheduler.New(scheduler.SystemClock(), logger)
	sched.Add(scheduler.Job{Name: "sample", Interval: cfg.Scheduler.SampleInterval, Run: func(ctx context.Context) {
		sampler.Sample(ctx)
	}})
	sched.Add(scheduler.Job{Name: "analyze", Interval: cfg.Scheduler.AnalyzeInterval, Run: patterns.Run})
	sched.Add(scheduler.Job{Name: "review", Interval: cfg.Scheduler.ReviewInterval, Run: func(context.Context) {
		reviewOpenIncidents(store, logger)
	}})
	sched.Add(scheduler.Job{Name: "cleanup", Interval: cfg.Scheduler.CleanupInterval, Run: cleaner.Run})
	sched.Start()

	// HTTP API.
	agg := dashboard.New(store, history)
	apiServer := api.NewServer(store, history, agg, logger)

	middlewares := []func(http.Handler) http.Handler{
		api.Recovery(logger),
		api.RequestLogging(logger),
		api.AccessRecording(sinks, reqScorer, logger),
	}
	if cfg.Auth.Enabled {
		middlewares = append(middlewares, api.APIKeyAuth(cfg.Auth.APIKeyHeader, cfg.Auth.APIKeyHashes, sinks, logger))
	}
	handler := api.Chain(apiServer.Routes(), middlewares...)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting sentinel server", "address", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	sched.Stop(shutdownGrace)
	reqScorer.Close(shutdownGrace)
	dispatcher.Close(shutdownGrace)
	cancel()

	if kafkaChannel != nil {
		if err := kafkaChannel.Close(); err != nil {
			logger.Error("kafka channel close error", "error", err)
		}
	}
	if rl, ok := limiter.(*monitor.RedisLimiter); ok {
		if err := rl.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}
	if chStore != nil {
		if err := chStore.Close(); err != nil {
			logger.Error("clickhouse close error", "error", err)
		}
	}

	logger.Info("shutdown complete",
		"incidents_buffered", store.Len(),
		"requests_dropped", reqScorer.Dropped(),
	)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// openSinks connects the durable sinks, falling back to the bounded
// in-memory store when ClickHouse is disabled or unreachable.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Sinks, *storage.ClickHouseStore) {
	if !cfg.Storage.Enabled {
		logger.Info("durable storage disabled, using in-memory sinks")
		return storage.NewMemoryStore(), nil
	}

	chStore, err := storage.NewClickHouseStore(cfg.Storage.ClickHouse)
	if err == nil {
		err = chStore.Ping(ctx)
	}
	if err == nil {
		err = chStore.EnsureSchema(ctx)
	}
	if err != nil {
		logger.Warn("clickhouse unavailable, degrading to in-memory sinks", "error", err)
		return storage.NewMemoryStore(), nil
	}

	logger.Info("clickhouse storage initialized",
		"hosts", cfg.Storage.ClickHouse.Hosts,
		"database", cfg.Storage.ClickHouse.Database,
	)
	return chStore, chStore
}

func openLimiter(ctx context.Context, cfg *config.Config, logger *slog.Logger) monitor.Limiter {
	window := cfg.Monitoring.AlertWindow
	if window <= 0 {
		return monitor.NoLimit()
	}
	if cfg.Redis.Enabled {
		rl, err := monitor.NewRedisLimiter(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, window, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process alert dedup", "error", err)
			return monitor.NewMemoryLimiter(window)
		}
		return rl
	}
	return monitor.NewMemoryLimiter(window)
}

func buildChannels(cfg config.AlertingConfig, logger *slog.Logger) ([]alerting.Channel, *alerting.KafkaChannel) {
	var channels []alerting.Channel
	for _, wh := range cfg.Webhooks {
		channels = append(channels, alerting.NewWebhookChannel(wh.Name, wh.URL, wh.Headers))
		logger.Info("webhook channel configured", "name", wh.Name)
	}
	if cfg.Email.Enabled {
		channels = append(channels, alerting.NewEmailChannel(
			cfg.Email.Host, cfg.Email.Port,
			cfg.Email.Username, cfg.Email.Password,
			cfg.Email.From, cfg.Email.To,
		))
		logger.Info("email channel configured", "host", cfg.Email.Host, "recipients", len(cfg.Email.To))
	}
	var kafkaChannel *alerting.KafkaChannel
	if cfg.Kafka.Enabled {
		kafkaChannel = alerting.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		channels = append(channels, kafkaChannel)
		logger.Info("kafka channel configured", "topic", cfg.Kafka.Topic)
	}
	return channels, kafkaChannel
}

// reviewOpenIncidents surfaces incidents that have escalated severity but
// are still open, so stale triage shows up in the logs between alerts.
func reviewOpenIncidents(store *incident.Store, logger *slog.Logger) {
	open := store.Query(incident.QueryFilter{Status: schema.StatusOpen})
	stale := 0
	for _, inc := range open {
		if inc.ThreatLevel.Escalates() {
			stale++
		}
	}
	if stale > 0 {
		logger.Warn("open escalated incidents awaiting triage", "count", stale, "open_total", len(open))
	} else {
		logger.Debug("incident review pass complete", "open_total", len(open))
	}
}
