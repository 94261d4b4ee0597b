package storage

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"sentinel-engine/internal/schema"
)

// ClickHouseConfig holds the configuration for the ClickHouse connection.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	Debug           bool          `yaml:"debug"`
}

// DefaultClickHouseConfig returns the default ClickHouse configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "sentinel",
		Username:        "default",
		Password:        "",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		TLSEnabled:      false,
		DialTimeout:     10 * time.Second,
		Debug:           false,
	}
}

// Table names.
const (
	TableAccessLog  = "api_access_log"
	TableAuthEvents = "auth_events"
	TableIncidents  = "incidents"
	TableMetrics    = "metric_samples"
)

// ClickHouseStore is the durable Sinks implementation.
type ClickHouseStore struct {
	conn   driver.Conn
	config ClickHouseConfig
}

// NewClickHouseStore connects to ClickHouse and verifies the connection.
func NewClickHouseStore(cfg ClickHouseConfig) (*ClickHouseStore, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Debug:           cfg.Debug,
	}

	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, WrapConnectionError("Open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, WrapConnectionError("Ping", err)
	}

	return &ClickHouseStore{conn: conn, config: cfg}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// Ping checks if the connection is alive.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// EnsureSchema creates the database and all tables if they don't exist.
func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.config.Database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			endpoint String,
			method String,
			user_id String,
			ip String,
			user_agent String,
			response_code Int32,
			response_time_ms Float64,
			request_size Int64,
			response_size Int64,
			threat_score Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (timestamp, ip)`, TableAccessLog),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			event_type String,
			user_id String,
			ip String,
			success UInt8,
			failure_reason String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (timestamp, ip)`, TableAuthEvents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id String,
			timestamp DateTime64(3),
			threat_level String,
			category String,
			title String,
			description String,
			source_ip String,
			user_id String,
			indicators String,
			response_actions Array(String),
			status String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (timestamp, id)`, TableIncidents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(3),
			cpu_usage Float64,
			memory_usage Float64,
			disk_usage Float64,
			network_connections Int32,
			active_sessions Int32,
			failed_logins_last_hour Int32,
			api_requests_last_minute Int32,
			threat_detections_last_minute Int32
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY timestamp`, TableMetrics),
	}

	for _, q := range ddl {
		if err := s.conn.Exec(ctx, q); err != nil {
			return WrapQueryError("EnsureSchema", "", err)
		}
	}
	return nil
}

// AppendAccess inserts one access log row.
func (s *ClickHouseStore) AppendAccess(ctx context.Context, rec schema.APIAccessRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", TableAccessLog))
	if err != nil {
		return WrapTransientError("AppendAccess", TableAccessLog, err)
	}
	if err := batch.Append(
		rec.Timestamp,
		rec.Endpoint,
		rec.Method,
		rec.UserID,
		rec.IP,
		rec.UserAgent,
		int32(rec.ResponseCode),
		rec.ResponseTimeMS,
		rec.RequestSize,
		rec.ResponseSize,
		rec.ThreatScore,
	); err != nil {
		return NewSinkError("AppendAccess", TableAccessLog, err)
	}
	if err := batch.Send(); err != nil {
		return WrapTransientError("AppendAccess", TableAccessLog, err)
	}
	return nil
}

// StatsByIP aggregates request counts and distinct endpoints per IP.
func (s *ClickHouseStore) StatsByIP(ctx context.Context, since time.Time) ([]IPAccessStats, error) {
	query := fmt.Sprintf(`SELECT ip, count() AS requests, uniqExact(endpoint) AS endpoints, avg(response_time_ms) AS avg_rt
		FROM %s
		WHERE timestamp >= ?
		GROUP BY ip
		ORDER BY requests DESC`, TableAccessLog)

	rows, err := s.conn.Query(ctx, query, since)
	if err != nil {
		return nil, WrapQueryError("StatsByIP", TableAccessLog, err)
	}
	defer rows.Close()

	var out []IPAccessStats
	for rows.Next() {
		var (
			ip        string
			requests  uint64
			endpoints uint64
			avgRT     float64
		)
		if err := rows.Scan(&ip, &requests, &endpoints, &avgRT); err != nil {
			return nil, WrapQueryError("StatsByIP", TableAccessLog, err)
		}
		out = append(out, IPAccessStats{
			IP:                ip,
			RequestCount:      int(requests),
			UniqueEndpoints:   int(endpoints),
			AvgResponseTimeMS: avgRT,
		})
	}
	return out, rows.Err()
}

// LargeTransfers sums response sizes above minBytes per (IP, user).
func (s *ClickHouseStore) LargeTransfers(ctx context.Context, since time.Time, minBytes int64) ([]TransferStats, error) {
	query := fmt.Sprintf(`SELECT ip, user_id, sum(response_size) AS total, count() AS rows
		FROM %s
		WHERE timestamp >= ? AND response_size > ?
		GROUP BY ip, user_id
		ORDER BY total DESC`, TableAccessLog)

	rows, err := s.conn.Query(ctx, query, since, minBytes)
	if err != nil {
		return nil, WrapQueryError("LargeTransfers", TableAccessLog, err)
	}
	defer rows.Close()

	var out []TransferStats
	for rows.Next() {
		var (
			ip    string
			user  string
			total int64
			count uint64
		)
		if err := rows.Scan(&ip, &user, &total, &count); err != nil {
			return nil, WrapQueryError("LargeTransfers", TableAccessLog, err)
		}
		out = append(out, TransferStats{
			IP:         ip,
			UserID:     user,
			TotalBytes: total,
			RowCount:   int(count),
		})
	}
	return out, rows.Err()
}

// CountRequests counts access rows at or after since.
func (s *ClickHouseStore) CountRequests(ctx context.Context, since time.Time) (int, error) {
	query := fmt.Sprintf("SELECT count() FROM %s WHERE timestamp >= ?", TableAccessLog)

	var n uint64
	if err := s.conn.QueryRow(ctx, query, since).Scan(&n); err != nil {
		return 0, WrapQueryError("CountRequests", TableAccessLog, err)
	}
	return int(n), nil
}

// PurgeAccessBefore removes access rows older than cutoff.
func (s *ClickHouseStore) PurgeAccessBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.purgeBefore(ctx, TableAccessLog, cutoff)
}

// AppendAuthEvent inserts one authentication event row.
func (s *ClickHouseStore) AppendAuthEvent(ctx context.Context, rec schema.AuthEventRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", TableAuthEvents))
	if err != nil {
		return WrapTransientError("AppendAuthEvent", TableAuthEvents, err)
	}
	success := uint8(0)
	if rec.Success {
		success = 1
	}
	if err := batch.Append(
		rec.Timestamp,
		rec.EventType,
		rec.UserID,
		rec.IP,
		success,
		rec.FailureReason,
	); err != nil {
		return NewSinkError("AppendAuthEvent", TableAuthEvents, err)
	}
	if err := batch.Send(); err != nil {
		return WrapTransientError("AppendAuthEvent", TableAuthEvents, err)
	}
	return nil
}

// FailedLoginsByIP counts failed logins per IP at or after since.
func (s *ClickHouseStore) FailedLoginsByIP(ctx context.Context, since time.Time) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT ip, count() AS failures
		FROM %s
		WHERE timestamp >= ? AND success = 0
		GROUP BY ip`, TableAuthEvents)

	rows, err := s.conn.Query(ctx, query, since)
	if err != nil {
		return nil, WrapQueryError("FailedLoginsByIP", TableAuthEvents, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			ip       string
			failures uint64
		)
		if err := rows.Scan(&ip, &failures); err != nil {
			return nil, WrapQueryError("FailedLoginsByIP", TableAuthEvents, err)
		}
		out[ip] = int(failures)
	}
	return out, rows.Err()
}

// CountFailedLogins counts failed logins at or after since.
func (s *ClickHouseStore) CountFailedLogins(ctx context.Context, since time.Time) (int, error) {
	query := fmt.Sprintf("SELECT count() FROM %s WHERE timestamp >= ? AND success = 0", TableAuthEvents)

	var n uint64
	if err := s.conn.QueryRow(ctx, query, since).Scan(&n); err != nil {
		return 0, WrapQueryError("CountFailedLogins", TableAuthEvents, err)
	}
	return int(n), nil
}

// PurgeAuthBefore removes auth rows older than cutoff.
func (s *ClickHouseStore) PurgeAuthBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.purgeBefore(ctx, TableAuthEvents, cutoff)
}

// AppendIncident inserts one incident row. Indicators are stored as JSON.
func (s *ClickHouseStore) AppendIncident(ctx context.Context, inc schema.SecurityIncident) error {
	indicators, err := json.Marshal(inc.Indicators)
	if err != nil {
		return NewSinkError("AppendIncident", TableIncidents, err)
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", TableIncidents))
	if err != nil {
		return WrapTransientError("AppendIncident", TableIncidents, err)
	}
	if err := batch.Append(
		inc.ID,
		inc.Timestamp,
		string(inc.ThreatLevel),
		string(inc.Category),
		inc.Title,
		inc.Description,
		inc.SourceIP,
		inc.UserID,
		string(indicators),
		inc.ResponseActions,
		string(inc.Status),
	); err != nil {
		return NewSinkError("AppendIncident", TableIncidents, err)
	}
	if err := batch.Send(); err != nil {
		return WrapTransientError("AppendIncident", TableIncidents, err)
	}
	return nil
}

// PurgeIncidentsBefore removes incident rows older than cutoff.
func (s *ClickHouseStore) PurgeIncidentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.purgeBefore(ctx, TableIncidents, cutoff)
}

// AppendMetric inserts one metric snapshot row.
func (s *ClickHouseStore) AppendMetric(ctx context.Context, snap schema.MetricSnapshot) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", TableMetrics))
	if err != nil {
		return WrapTransientError("AppendMetric", TableMetrics, err)
	}
	if err := batch.Append(
		snap.Timestamp,
		snap.CPUUsage,
		snap.MemoryUsage,
		snap.DiskUsage,
		int32(snap.NetworkConnections),
		int32(snap.ActiveSessions),
		int32(snap.FailedLoginsLastHour),
		int32(snap.APIRequestsLastMinute),
		int32(snap.ThreatDetectionsLastMinute),
	); err != nil {
		return NewSinkError("AppendMetric", TableMetrics, err)
	}
	if err := batch.Send(); err != nil {
		return WrapTransientError("AppendMetric", TableMetrics, err)
	}
	return nil
}

// PurgeMetricsBefore removes metric rows older than cutoff.
func (s *ClickHouseStore) PurgeMetricsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.purgeBefore(ctx, TableMetrics, cutoff)
}

// purgeBefore counts then deletes rows older than cutoff. The delete is an
// asynchronous mutation; the returned count reflects rows matched at issue
// time.
func (s *ClickHouseStore) purgeBefore(ctx context.Context, table string, cutoff time.Time) (int, error) {
	countQuery := fmt.Sprintf("SELECT count() FROM %s WHERE timestamp < ?", table)

	var n uint64
	if err := s.conn.QueryRow(ctx, countQuery, cutoff).Scan(&n); err != nil {
		return 0, WrapQueryError("PurgeBefore", table, err)
	}
	if n == 0 {
		return 0, nil
	}

	deleteQuery := fmt.Sprintf("ALTER TABLE %s DELETE WHERE timestamp < ?", table)
	if err := s.conn.Exec(ctx, deleteQuery, cutoff); err != nil {
		return 0, WrapQueryError("PurgeBefore", table, err)
	}
	return int(n), nil
}

var _ Sinks = (*ClickHouseStore)(nil)
