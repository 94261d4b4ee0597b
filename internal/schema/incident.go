// Package schema defines the canonical incident and telemetry types for the
// monitoring engine. All detectors normalize their findings to these structures
// before storage.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ThreatLevel is the ordered severity of an incident.
type ThreatLevel string

const (
	ThreatInfo     ThreatLevel = "info"
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// IsValid checks if the threat level is a valid value.
func (t ThreatLevel) IsValid() bool {
	switch t {
	case ThreatInfo, ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical:
		return true
	}
	return false
}

// Rank returns a numeric rank for ordering (info=0 .. critical=4).
func (t ThreatLevel) Rank() int {
	switch t {
	case ThreatLow:
		return 1
	case ThreatMedium:
		return 2
	case ThreatHigh:
		return 3
	case ThreatCritical:
		return 4
	default:
		return 0
	}
}

// Escalates reports whether incidents at this level are forwarded to
// notification channels.
func (t ThreatLevel) Escalates() bool {
	return t == ThreatHigh || t == ThreatCritical
}

// Category classifies the subsystem an incident relates to.
type Category string

const (
	CategoryNetwork         Category = "network"
	CategoryAuthentication  Category = "authentication"
	CategoryDataAccess      Category = "data_access"
	CategorySystemResources Category = "system_resources"
	CategoryAPIUsage        Category = "api_usage"
	CategoryModelSecurity   Category = "model_security"
)

// IsValid checks if the category is a valid value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNetwork, CategoryAuthentication, CategoryDataAccess,
		CategorySystemResources, CategoryAPIUsage, CategoryModelSecurity:
		return true
	}
	return false
}

// IncidentStatus tracks the lifecycle of an incident. Transitions are
// caller-driven; detectors never move an incident back to open.
type IncidentStatus string

const (
	StatusOpen          IncidentStatus = "open"
	StatusInvestigating IncidentStatus = "investigating"
	StatusResolved      IncidentStatus = "resolved"
	StatusFalsePositive IncidentStatus = "false_positive"
)

// IsValid checks if the status is a valid value.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusInvestigating, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

// SecurityIncident is a recorded security-relevant event. ThreatLevel is set
// once at creation; only status, assignee and resolution notes are mutable.
// SourceIP is recorded as observed: attribution strings from stored log rows
// are not required to parse as IPs, so a hostile or mangled source cannot
// suppress the incident it triggered.
type SecurityIncident struct {
	ID                string           `json:"id" validate:"required"`
	Timestamp         time.Time        `json:"timestamp" validate:"required"`
	Category          Category         `json:"category" validate:"required,oneof=network authentication data_access system_resources api_usage model_security"`
	ThreatLevel       ThreatLevel      `json:"threat_level" validate:"required,oneof=info low medium high critical"`
	Title             string           `json:"title" validate:"required,max=256"`
	Description       string           `json:"description" validate:"max=4096"`
	SourceIP          string           `json:"source_ip,omitempty" validate:"max=256"`
	UserID            string           `json:"user_id,omitempty" validate:"max=256"`
	AffectedResources []string         `json:"affected_resources,omitempty"`
	Indicators        map[string]Value `json:"indicators,omitempty"`
	ResponseActions   []string         `json:"response_actions,omitempty"`
	Status            IncidentStatus   `json:"status" validate:"required,oneof=open investigating resolved false_positive"`
	AssignedTo        string           `json:"assigned_to,omitempty" validate:"max=256"`
	ResolutionNotes   string           `json:"resolution_notes,omitempty" validate:"max=4096"`
}

// IncidentID derives a collision-resistant identifier from the incident
// title, timestamp and source. Identical inputs yield the same ID.
func IncidentID(title string, ts time.Time, source string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", title, ts.UnixNano(), source)))
	return "inc-" + hex.EncodeToString(sum[:8])
}
