// Package alerts manages the screening alert lifecycle: creation from
// high-confidence matches, fan-out to notification channels, and the
// acknowledge/resolve workflow compliance analysts drive.
package alerts

import (
	"context"
	"time"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForConfidence maps a match confidence score to an alert
// severity.
func SeverityForConfidence(confidence int) Severity {
	switch {
	case confidence >= 95:
		return SeverityCritical
	case confidence >= 90:
		return SeverityHigh
	case confidence >= 80:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Type classifies what triggered an alert.
type Type string

const (
	TypeHighRiskMatch       Type = "high_risk_match"
	TypeSystemError         Type = "system_error"
	TypeComplianceViolation Type = "compliance_violation"
	TypeDataQualityIssue    Type = "data_quality_issue"
)

// Alert is one live alert. Metadata carries the audit trail: who
// acknowledged or resolved it and when.
type Alert struct {
	ID           string         `json:"id"`
	Type         Type           `json:"alert_type"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	CustomerID   string         `json:"customer_id,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
	Resolved     bool           `json:"resolved"`
}

// Channel delivers alerts to one destination (webhook, websocket).
type Channel interface {
	Send(ctx context.Context, alert *Alert) error
	ChannelType() string
	Enabled() bool
}

// Store persists alerts; delivery failures there are logged, never
// allowed to block the in-memory lifecycle.
type Store interface {
	PersistAlert(ctx context.Context, alert *Alert) error
	PersistAlertStatus(ctx context.Context, alert *Alert, actor string) error
}
