// Package alerting fans out high and critical incidents to notification
// channels. Delivery is best-effort: channel failures are logged, never
// propagated, and never block incident creation.
package alerting

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel-engine/internal/schema"
)

// Payload is the wire form of an incident notification.
type Payload struct {
	AlertType   string             `json:"alert_type"`
	IncidentID  string             `json:"incident_id"`
	Timestamp   time.Time          `json:"timestamp"`
	ThreatLevel schema.ThreatLevel `json:"threat_level"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Category    schema.Category    `json:"category"`
	SourceIP    string             `json:"source_ip,omitempty"`
	UserID      string             `json:"user_id,omitempty"`
}

// NewPayload builds the notification payload for an incident.
func NewPayload(inc schema.SecurityIncident) Payload {
	return Payload{
		AlertType:   "security_incident",
		IncidentID:  inc.ID,
		Timestamp:   inc.Timestamp,
		ThreatLevel: inc.ThreatLevel,
		Title:       inc.Title,
		Description: inc.Description,
		Category:    inc.Category,
		SourceIP:    inc.SourceIP,
		UserID:      inc.UserID,
	}
}

// Channel delivers one incident notification.
type Channel interface {
	Name() string
	Send(ctx context.Context, inc schema.SecurityIncident) error
}

// WebhookChannel posts the JSON payload to an HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, inc schema.SecurityIncident) error {
	data, err := json.Marshal(NewPayload(inc))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

// EmailChannel sends incident notifications over SMTP.
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
}

// NewEmailChannel creates an email channel.
func NewEmailChannel(host string, port int, username, password, from string, to []string) *EmailChannel {
	return &EmailChannel{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
	}
}

func (e *EmailChannel) Name() string {
	return "email"
}

func (e *EmailChannel) Send(ctx context.Context, inc schema.SecurityIncident) error {
	addr := fmt.Sprintf("%s:%d", e.host, e.port)

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(inc.ThreatLevel)), inc.Title)
	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", e.from)
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(e.to, ", "))
	fmt.Fprintf(&body, "Subject: %s\r\n", subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&body, "Incident: %s\r\n", inc.ID)
	fmt.Fprintf(&body, "Time: %s\r\n", inc.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&body, "Severity: %s\r\n", inc.ThreatLevel)
	fmt.Fprintf(&body, "Category: %s\r\n", inc.Category)
	if inc.SourceIP != "" {
		fmt.Fprintf(&body, "Source IP: %s\r\n", inc.SourceIP)
	}
	fmt.Fprintf(&body, "\r\n%s\r\n", inc.Description)
	if len(inc.ResponseActions) > 0 {
		body.WriteString("\r\nRecommended actions:\r\n")
		for _, action := range inc.ResponseActions {
			fmt.Fprintf(&body, "- %s\r\n", action)
		}
	}

	// net/smtp has no context support; the dial honors the deadline and the
	// session inherits the connection.
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake failed: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.host}); err != nil {
			return fmt.Errorf("smtp starttls failed: %w", err)
		}
	}
	if e.username != "" {
		auth := smtp.PlainAuth("", e.username, e.password, e.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("smtp mail from failed: %w", err)
	}
	for _, rcpt := range e.to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s failed: %w", rcpt, err)
		}
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := wc.Write([]byte(body.String())); err != nil {
		wc.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	return client.Quit()
}

// KafkaChannel publishes the JSON payload to a Kafka topic, keyed by
// incident ID so replays of one incident land in one partition.
type KafkaChannel struct {
	writer *kafka.Writer
}

// NewKafkaChannel creates a Kafka channel.
func NewKafkaChannel(brokers []string, topic string) *KafkaChannel {
	return &KafkaChannel{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (k *KafkaChannel) Name() string {
	return "kafka"
}

func (k *KafkaChannel) Send(ctx context.Context, inc schema.SecurityIncident) error {
	data, err := json.Marshal(NewPayload(inc))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(inc.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "threat_level", Value: []byte(inc.ThreatLevel)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaChannel) Close() error {
	return k.writer.Close()
}
