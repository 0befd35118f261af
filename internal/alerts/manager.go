package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the live alert set. Create, Acknowledge and Resolve are
// safe for concurrent use. Persistence and channel delivery are best
// effort: a failing webhook must not lose the alert itself.
type Manager struct {
	log   *zap.SugaredLogger
	store Store // nil disables persistence

	mu          sync.RWMutex
	active      map[string]*Alert
	subscribers map[string][]Channel // user id -> channels; "" receives everything
}

// NewManager builds an alert manager. st may be nil when persistence
// is not wired, e.g. in tests.
func NewManager(st Store, log *zap.SugaredLogger) *Manager {
	return &Manager{
		log:         log,
		store:       st,
		active:      make(map[string]*Alert),
		subscribers: make(map[string][]Channel),
	}
}

// Subscribe routes alerts for userID to ch. An empty userID subscribes
// the channel to every alert.
func (m *Manager) Subscribe(userID string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[userID] = append(m.subscribers[userID], ch)
}

// Unsubscribe removes all of userID's routes to ch.
func (m *Manager) Unsubscribe(userID string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channels := m.subscribers[userID]
	kept := channels[:0]
	for _, c := range channels {
		if c != ch {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(m.subscribers, userID)
	} else {
		m.subscribers[userID] = kept
	}
}

// Create registers, persists and distributes a new alert.
func (m *Manager) Create(ctx context.Context, typ Type, severity Severity, title, message, customerID, userID string, metadata map[string]any) *Alert {
	alert := &Alert{
		ID:         uuid.NewString(),
		Type:       typ,
		Severity:   severity,
		Title:      title,
		Message:    message,
		CustomerID: customerID,
		UserID:     userID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.active[alert.ID] = alert
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.PersistAlert(ctx, alert); err != nil {
			m.log.Errorw("Failed to persist alert", "alert_id", alert.ID, "error", err)
		}
	}

	m.distribute(ctx, alert)

	m.log.Infow("Alert created",
		"alert_id", alert.ID,
		"type", typ,
		"severity", severity,
		"customer_id", customerID)
	return alert
}

// Acknowledge marks an active alert as seen by userID. Returns false
// when the alert is unknown or already resolved.
func (m *Manager) Acknowledge(ctx context.Context, alertID, userID string) bool {
	m.mu.Lock()
	alert, ok := m.active[alertID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	alert.Acknowledged = true
	if alert.Metadata == nil {
		alert.Metadata = make(map[string]any)
	}
	alert.Metadata["acknowledged_by"] = userID
	alert.Metadata["acknowledged_at"] = time.Now().Format(time.RFC3339)
	snapshot := *alert
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.PersistAlertStatus(ctx, &snapshot, userID); err != nil {
			m.log.Errorw("Failed to persist alert update", "alert_id", alertID, "error", err)
		}
	}
	m.distribute(ctx, &snapshot)

	m.log.Infow("Alert acknowledged", "alert_id", alertID, "user_id", userID)
	return true
}

// Resolve closes an active alert and removes it from the live set.
// Returns false when the alert is unknown or already resolved.
func (m *Manager) Resolve(ctx context.Context, alertID, userID, resolutionNote string) bool {
	m.mu.Lock()
	alert, ok := m.active[alertID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	alert.Resolved = true
	if alert.Metadata == nil {
		alert.Metadata = make(map[string]any)
	}
	alert.Metadata["resolved_by"] = userID
	alert.Metadata["resolved_at"] = time.Now().Format(time.RFC3339)
	if resolutionNote != "" {
		alert.Metadata["resolution_note"] = resolutionNote
	}
	delete(m.active, alertID)
	snapshot := *alert
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.PersistAlertStatus(ctx, &snapshot, userID); err != nil {
			m.log.Errorw("Failed to persist alert update", "alert_id", alertID, "error", err)
		}
	}
	m.distribute(ctx, &snapshot)

	m.log.Infow("Alert resolved", "alert_id", alertID, "user_id", userID)
	return true
}

// Active returns live alerts newest first. userID filters to alerts
// addressed to that user or to everyone; severities further narrows
// the result when given.
func (m *Manager) Active(userID string, severities ...Severity) []Alert {
	wanted := make(map[Severity]bool, len(severities))
	for _, s := range severities {
		wanted[s] = true
	}

	m.mu.RLock()
	out := make([]Alert, 0, len(m.active))
	for _, alert := range m.active {
		if userID != "" && alert.UserID != "" && alert.UserID != userID {
			continue
		}
		if len(wanted) > 0 && !wanted[alert.Severity] {
			continue
		}
		out = append(out, *alert)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// distribute fans an alert out to its audience: the addressed user's
// channels plus every catch-all subscriber, or everyone when the alert
// is unaddressed.
func (m *Manager) distribute(ctx context.Context, alert *Alert) {
	m.mu.RLock()
	var targets []Channel
	if alert.UserID != "" {
		targets = append(targets, m.subscribers[alert.UserID]...)
		targets = append(targets, m.subscribers[""]...)
	} else {
		for _, channels := range m.subscribers {
			targets = append(targets, channels...)
		}
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		if !ch.Enabled() {
			continue
		}
		if err := ch.Send(ctx, alert); err != nil {
			m.log.Errorw("Failed to deliver alert",
				"alert_id", alert.ID,
				"channel", ch.ChannelType(),
				"error", err)
		}
	}
}
