package store

import (
	"context"
	"encoding/json"

	"github.com/ceres-kyc/screening/internal/alerts"
)

// AlertSink adapts the Store to the alert manager's persistence
// interface so the alerts package stays free of database types.
type AlertSink struct {
	store *Store
}

// NewAlertSink wraps a Store for alert persistence.
func NewAlertSink(s *Store) *AlertSink {
	return &AlertSink{store: s}
}

// PersistAlert writes a freshly created alert as an active row.
func (s *AlertSink) PersistAlert(ctx context.Context, a *alerts.Alert) error {
	row := Alert{
		ID:         a.ID,
		AlertType:  string(a.Type),
		Severity:   string(a.Severity),
		Status:     "active",
		CustomerID: a.CustomerID,
		Title:      a.Title,
		Message:    a.Message,
		CreatedAt:  a.CreatedAt,
	}
	if v, ok := a.Metadata["result_id"].(string); ok {
		row.ResultID = v
	}
	if v, ok := a.Metadata["source_code"].(string); ok {
		row.SourceCode = v
	}
	if len(a.Metadata) > 0 {
		if data, err := json.Marshal(a.Metadata); err == nil {
			row.AlertData = string(data)
		}
	}
	return s.store.SaveAlert(ctx, &row)
}

// PersistAlertStatus records an acknowledge or resolve transition.
func (s *AlertSink) PersistAlertStatus(ctx context.Context, a *alerts.Alert, actor string) error {
	status := "acknowledged"
	actionTaken := ""
	if a.Resolved {
		status = "resolved"
		if note, ok := a.Metadata["resolution_note"].(string); ok {
			actionTaken = note
		}
	}
	return s.store.UpdateAlertStatus(ctx, a.ID, status, actionTaken, actor)
}
