package schema

import "time"

// APIAccessRecord is one row of the API access log, written once per
// completed request. Read back only through aggregate queries.
type APIAccessRecord struct {
	Timestamp      time.Time `json:"timestamp"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	UserID         string    `json:"user_id,omitempty"`
	IP             string    `json:"ip"`
	UserAgent      string    `json:"user_agent,omitempty"`
	ResponseCode   int       `json:"response_code"`
	ResponseTimeMS float64   `json:"response_time_ms"`
	RequestSize    int64     `json:"request_size"`
	ResponseSize   int64     `json:"response_size"`
	ThreatScore    float64   `json:"threat_score"`
}

// AuthEventRecord is one row of the authentication event log.
type AuthEventRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	UserID        string    `json:"user_id,omitempty"`
	IP            string    `json:"ip"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
}
