// Package cache implements the two-tier screening cache: a local
// in-process tier backed by a shared Redis tier. Writes go through
// both tiers, reads fall back from local to Redis, and the manager
// degrades to local-only operation when Redis is unavailable.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/metrics"
)

// Prefix identifies a cache namespace with its own TTL policy.
type Prefix string

const (
	PrefixScreeningResult Prefix = "screening:result:"
	PrefixScreeningSource Prefix = "screening:source:"
	PrefixCustomerData    Prefix = "customer:data:"
	PrefixRiskAssessment  Prefix = "risk:assessment:"
	PrefixAPIResponse     Prefix = "api:response:"
	PrefixStatistics      Prefix = "stats:"
)

// defaultTTL maps each namespace to its time-to-live.
var defaultTTL = map[Prefix]time.Duration{
	PrefixScreeningResult: 24 * time.Hour,
	PrefixScreeningSource: time.Hour,
	PrefixCustomerData:    30 * time.Minute,
	PrefixRiskAssessment:  time.Hour,
	PrefixAPIResponse:     5 * time.Minute,
	PrefixStatistics:      10 * time.Minute,
}

// TTLFor returns the namespace TTL, falling back to one hour for an
// unknown prefix.
func TTLFor(prefix Prefix) time.Duration {
	if ttl, ok := defaultTTL[prefix]; ok {
		return ttl
	}
	return time.Hour
}

// envelope is the stored representation shared by both tiers.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

type localItem struct {
	payload   []byte
	expiresAt time.Time
}

// Stats reports per-tier hit and error counters.
type Stats struct {
	LocalHits   int64 `json:"local_hits"`
	LocalMisses int64 `json:"local_misses"`
	RedisHits   int64 `json:"redis_hits"`
	RedisMisses int64 `json:"redis_misses"`
	Sets        int64 `json:"sets"`
	Deletes     int64 `json:"deletes"`
	Errors      int64 `json:"errors"`
}

// Manager is the two-tier cache. A nil Redis client is allowed and
// leaves the manager running on the local tier alone.
type Manager struct {
	client redis.UniversalClient
	log    *zap.SugaredLogger

	mu    sync.RWMutex
	local map[string]localItem

	localHits   atomic.Int64
	localMisses atomic.Int64
	redisHits   atomic.Int64
	redisMisses atomic.Int64
	sets        atomic.Int64
	deletes     atomic.Int64
	errors      atomic.Int64

	stop chan struct{}
}

// NewManager builds the cache and starts the local expiry janitor.
func NewManager(client redis.UniversalClient, log *zap.SugaredLogger) *Manager {
	m := &Manager{
		client: client,
		log:    log,
		local:  make(map[string]localItem),
		stop:   make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Close stops the background janitor.
func (m *Manager) Close() {
	close(m.stop)
}

// Key builds the namespaced cache key for an identifier.
func Key(prefix Prefix, identifier string) string {
	return string(prefix) + identifier
}

// Set stores a value in both tiers. A zero ttl uses the namespace
// default. Redis failures are logged but do not fail the write.
func (m *Manager) Set(ctx context.Context, prefix Prefix, identifier string, value any, ttl time.Duration) error {
	if ttl == 0 {
		ttl = TTLFor(prefix)
	}
	data, err := json.Marshal(value)
	if err != nil {
		m.errors.Add(1)
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	payload, err := json.Marshal(envelope{
		Data:      data,
		Timestamp: time.Now(),
		TTL:       int64(ttl.Seconds()),
	})
	if err != nil {
		m.errors.Add(1)
		return fmt.Errorf("failed to marshal cache envelope: %w", err)
	}

	key := Key(prefix, identifier)
	m.mu.Lock()
	m.local[key] = localItem{payload: payload, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()

	if m.client != nil {
		if err := m.client.Set(ctx, key, payload, ttl).Err(); err != nil {
			m.errors.Add(1)
			m.log.Warnw("Redis cache write failed", "key", key, "error", err)
		}
	}
	m.sets.Add(1)
	return nil
}

// Get loads a value into dest. The local tier is consulted first; a
// Redis hit backfills the local tier. Returns false when the key is
// absent in both tiers.
func (m *Manager) Get(ctx context.Context, prefix Prefix, identifier string, dest any) (bool, error) {
	key := Key(prefix, identifier)

	m.mu.RLock()
	item, ok := m.local[key]
	m.mu.RUnlock()
	if ok && time.Now().Before(item.expiresAt) {
		m.localHits.Add(1)
		metrics.ObserveCache("local", true)
		return true, decode(item.payload, dest)
	}
	m.localMisses.Add(1)
	metrics.ObserveCache("local", false)

	if m.client == nil {
		return false, nil
	}

	payload, err := m.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			m.redisMisses.Add(1)
			metrics.ObserveCache("redis", false)
			return false, nil
		}
		m.errors.Add(1)
		return false, fmt.Errorf("failed to read from redis cache: %w", err)
	}
	m.redisHits.Add(1)
	metrics.ObserveCache("redis", true)

	ttl, err := m.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = TTLFor(prefix)
	}
	m.mu.Lock()
	m.local[key] = localItem{payload: payload, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()

	return true, decode(payload, dest)
}

// Delete removes a key from both tiers.
func (m *Manager) Delete(ctx context.Context, prefix Prefix, identifier string) error {
	key := Key(prefix, identifier)

	m.mu.Lock()
	delete(m.local, key)
	m.mu.Unlock()

	if m.client != nil {
		if err := m.client.Del(ctx, key).Err(); err != nil {
			m.errors.Add(1)
			return fmt.Errorf("failed to delete from redis cache: %w", err)
		}
	}
	m.deletes.Add(1)
	return nil
}

// Stats snapshots the counters.
func (m *Manager) Stats() Stats {
	return Stats{
		LocalHits:   m.localHits.Load(),
		LocalMisses: m.localMisses.Load(),
		RedisHits:   m.redisHits.Load(),
		RedisMisses: m.redisMisses.Load(),
		Sets:        m.sets.Load(),
		Deletes:     m.deletes.Load(),
		Errors:      m.errors.Load(),
	}
}

func decode(payload []byte, dest any) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to unmarshal cache envelope: %w", err)
	}
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// matchKey applies redis-style glob matching to a local key.
func matchKey(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, item := range m.local {
				if now.After(item.expiresAt) {
					delete(m.local, key)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}
