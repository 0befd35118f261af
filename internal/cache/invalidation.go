package cache

import (
	"context"
	"fmt"
	"strings"
)

// Event names a data change that stales cached entries.
type Event string

const (
	EventCustomerUpdated    Event = "customer_updated"
	EventScreeningCompleted Event = "screening_completed"
	EventSourceUpdated      Event = "source_updated"
)

// invalidationRules maps each event to the key patterns it stales.
var invalidationRules = map[Event][]string{
	EventCustomerUpdated:    {"customer:data:*", "risk:assessment:*"},
	EventScreeningCompleted: {"screening:result:*", "risk:assessment:*"},
	EventSourceUpdated:      {"screening:source:*", "screening:result:*"},
}

// InvalidatePattern deletes every key matching the glob pattern from
// both tiers and returns how many Redis keys were removed.
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	for key := range m.local {
		if matchKey(pattern, key) {
			delete(m.local, key)
		}
	}
	m.mu.Unlock()

	if m.client == nil {
		return 0, nil
	}

	var cursor uint64
	var keys []string
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			m.errors.Add(1)
			return 0, fmt.Errorf("failed to scan redis for pattern %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		m.errors.Add(1)
		return 0, fmt.Errorf("failed to delete redis keys for pattern %q: %w", pattern, err)
	}
	m.deletes.Add(int64(len(keys)))
	m.log.Infow("Invalidated cache entries", "pattern", pattern, "count", len(keys))
	return len(keys), nil
}

// InvalidateEvent applies the static invalidation rules for an event.
// When entityID is set, each wildcard pattern is narrowed to that
// entity.
func (m *Manager) InvalidateEvent(ctx context.Context, event Event, entityID string) error {
	patterns, ok := invalidationRules[event]
	if !ok {
		return nil
	}
	for _, pattern := range patterns {
		if entityID != "" {
			pattern = strings.Replace(pattern, "*", entityID+"*", 1)
		}
		if _, err := m.InvalidatePattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}
