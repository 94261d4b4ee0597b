// Package config handles configuration loading for the sentinel engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-engine/internal/schema"
	"sentinel-engine/internal/storage"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Incidents  IncidentsConfig  `yaml:"incidents"`
	Scorer     ScorerConfig     `yaml:"scorer"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Retention  RetentionConfig  `yaml:"retention"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MonitoringConfig holds sampling and threshold settings.
type MonitoringConfig struct {
	HistorySize int `yaml:"history_size"`

	// Thresholds overrides the built-in alert limits per metric name.
	Thresholds map[string]float64 `yaml:"thresholds"`

	// AlertWindow is the rolling dedup window for repeated threshold
	// breaches of the same metric at the same severity. Zero disables
	// deduplication.
	AlertWindow time.Duration `yaml:"alert_window"`
}

// IncidentsConfig holds incident store settings.
type IncidentsConfig struct {
	MaxIncidents int `yaml:"max_incidents"`
}

// ScorerConfig holds request scoring settings.
type ScorerConfig struct {
	QueueSize         int     `yaml:"queue_size"`
	IncidentThreshold float64 `yaml:"incident_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
}

// SchedulerConfig holds the periodic job cadences.
type SchedulerConfig struct {
	SampleInterval  time.Duration `yaml:"sample_interval"`
	AnalyzeInterval time.Duration `yaml:"analyze_interval"`
	ReviewInterval  time.Duration `yaml:"review_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// RetentionConfig holds data retention windows.
type RetentionConfig struct {
	IncidentAge time.Duration           `yaml:"incident_age"`
	MetricAge   time.Duration           `yaml:"metric_age"`
	S3Archive   storage.S3ArchiveConfig `yaml:"s3_archive"`
}

// AlertingConfig holds notification channel settings.
type AlertingConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Email    EmailConfig     `yaml:"email"`
	Kafka    KafkaConfig     `yaml:"kafka"`

	// DeliveryTimeout bounds each channel's notification attempt.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// WebhookConfig holds one webhook notification target.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// EmailConfig holds SMTP notification settings.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// KafkaConfig holds Kafka notification settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// AuthConfig holds API authentication settings. APIKeyHashes are bcrypt
// hashes of accepted keys.
type AuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeyHashes []string `yaml:"api_key_hashes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds durable sink settings.
type StorageConfig struct {
	Enabled    bool                     `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig `yaml:"clickhouse"`
}

// RedisConfig holds the distributed alert dedup backend settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Monitoring: MonitoringConfig{
			HistorySize: 1440, // 24h of minute samples
			Thresholds:  schema.DefaultThresholds(),
			AlertWindow: 15 * time.Minute,
		},
		Incidents: IncidentsConfig{
			MaxIncidents: 10000,
		},
		Scorer: ScorerConfig{
			QueueSize:         1024,
			IncidentThreshold: 0.7,
			HighThreshold:     0.8,
		},
		Scheduler: SchedulerConfig{
			SampleInterval:  time.Minute,
			AnalyzeInterval: 5 * time.Minute,
			ReviewInterval:  15 * time.Minute,
			CleanupInterval: time.Hour,
		},
		Retention: RetentionConfig{
			IncidentAge: 30 * 24 * time.Hour,
			MetricAge:   7 * 24 * time.Hour,
		},
		Alerting: AlertingConfig{
			DeliveryTimeout: 10 * time.Second,
			Email: EmailConfig{
				Port: 587,
			},
			Kafka: KafkaConfig{
				Topic: "sentinel.incidents",
			},
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false, // Disabled by default for development
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Enabled:    false, // Disabled by default for development without ClickHouse
			ClickHouse: storage.DefaultClickHouseConfig(),
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if hash := os.Getenv("SENTINEL_API_KEY_HASH"); hash != "" {
		c.Auth.APIKeyHashes = append(c.Auth.APIKeyHashes, hash)
		c.Auth.Enabled = true
	}

	if enabled := os.Getenv("SENTINEL_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = strings.Split(host, ",")
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}

	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Alerting.Kafka.Brokers = strings.Split(brokers, ",")
		c.Alerting.Kafka.Enabled = true
	}

	if pass := os.Getenv("SENTINEL_SMTP_PASSWORD"); pass != "" {
		c.Alerting.Email.Password = pass
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Monitoring.HistorySize <= 0 {
		return fmt.Errorf("monitoring history_size must be positive")
	}

	for name := range c.Monitoring.Thresholds {
		found := false
		for _, known := range schema.MetricNames {
			if name == known {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown threshold metric: %s", name)
		}
	}

	if c.Monitoring.AlertWindow < 0 {
		return fmt.Errorf("monitoring alert_window must not be negative")
	}

	if c.Incidents.MaxIncidents <= 0 {
		return fmt.Errorf("incidents max_incidents must be positive")
	}

	if c.Scorer.QueueSize <= 0 {
		return fmt.Errorf("scorer queue_size must be positive")
	}
	if c.Scorer.IncidentThreshold < 0 || c.Scorer.IncidentThreshold > 1 {
		return fmt.Errorf("scorer incident_threshold must be in [0, 1]")
	}
	if c.Scorer.HighThreshold < c.Scorer.IncidentThreshold {
		return fmt.Errorf("scorer high_threshold must not be below incident_threshold")
	}

	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"sample_interval", c.Scheduler.SampleInterval},
		{"analyze_interval", c.Scheduler.AnalyzeInterval},
		{"review_interval", c.Scheduler.ReviewInterval},
		{"cleanup_interval", c.Scheduler.CleanupInterval},
	} {
		if d.v <= 0 {
			return fmt.Errorf("scheduler %s must be positive", d.name)
		}
	}

	if c.Retention.IncidentAge <= 0 || c.Retention.MetricAge <= 0 {
		return fmt.Errorf("retention windows must be positive")
	}
	if err := c.Retention.S3Archive.Validate(); err != nil {
		return err
	}

	for _, wh := range c.Alerting.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %q has no url", wh.Name)
		}
	}
	if c.Alerting.Email.Enabled {
		if c.Alerting.Email.Host == "" || len(c.Alerting.Email.To) == 0 {
			return fmt.Errorf("email alerting requires host and recipients")
		}
	}
	if c.Alerting.Kafka.Enabled && len(c.Alerting.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka alerting requires brokers")
	}

	if c.Auth.Enabled && len(c.Auth.APIKeyHashes) == 0 {
		return fmt.Errorf("auth enabled but no api_key_hashes configured")
	}

	return nil
}
