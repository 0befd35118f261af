package screening

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceStatus tracks the operational state of a registered source.
type SourceStatus struct {
	Status     string    `json:"status"` // active or error
	LastUpdate time.Time `json:"last_update"`
	LastError  string    `json:"last_error,omitempty"`
}

// ManagerStatistics aggregates the state of every registered source.
type ManagerStatistics struct {
	Sources       map[string]SourceStatistics `json:"sources"`
	Status        map[string]SourceStatus     `json:"status"`
	TotalSources  int                         `json:"total_sources"`
	ActiveSources int                         `json:"active_sources"`
}

// UpdateResult is the outcome of refreshing one source.
type UpdateResult struct {
	Updated bool
	Err     error
}

type registeredSource struct {
	src Source
	// minInterval throttles outbound searches for providers with
	// request quotas. Zero means unthrottled.
	minInterval time.Duration
	lastSearch  time.Time
	searchMu    sync.Mutex
}

// Manager owns the set of screening sources and fans searches and
// refreshes out across them. A failing source is reported in its own
// result slot and never aborts the run.
type Manager struct {
	log     *zap.SugaredLogger
	timeout time.Duration

	mu      sync.RWMutex
	sources map[string]*registeredSource
	order   []string
	status  map[string]SourceStatus
}

// NewManager builds an empty source registry. timeout bounds each
// individual source search.
func NewManager(timeout time.Duration, log *zap.SugaredLogger) *Manager {
	return &Manager{
		log:     log,
		timeout: timeout,
		sources: make(map[string]*registeredSource),
		status:  make(map[string]SourceStatus),
	}
}

// Register adds a source under its code. minInterval throttles outbound
// searches against the source; pass zero for local list sources.
// Registering the same code twice replaces the previous source.
func (m *Manager) Register(src Source, minInterval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := src.Code()
	if _, exists := m.sources[code]; !exists {
		m.order = append(m.order, code)
	}
	m.sources[code] = &registeredSource{src: src, minInterval: minInterval}
	m.log.Infow("Registered screening source",
		"source", code,
		"type", src.Type())
}

// Codes returns the registered source codes in registration order.
func (m *Manager) Codes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Manager) get(code string) (*registeredSource, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.sources[code]
	return rs, ok
}

// Source returns the registered source for code.
func (m *Manager) Source(code string) (Source, error) {
	rs, ok := m.get(code)
	if !ok {
		return nil, ErrUnknownSource
	}
	return rs.src, nil
}

// UpdateAll refreshes every source concurrently and returns the
// per-source outcomes. The returned error is always nil; failures live
// in the result map so one broken feed cannot mask the others.
func (m *Manager) UpdateAll(ctx context.Context, force bool) map[string]UpdateResult {
	m.mu.RLock()
	codes := make([]string, len(m.order))
	copy(codes, m.order)
	m.mu.RUnlock()

	results := make(map[string]UpdateResult, len(codes))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, code := range codes {
		rs, ok := m.get(code)
		if !ok {
			continue
		}
		code := code
		g.Go(func() error {
			updated, err := rs.src.Refresh(gctx, force)

			resultsMu.Lock()
			results[code] = UpdateResult{Updated: updated, Err: err}
			resultsMu.Unlock()

			m.recordStatus(code, err)
			if err != nil {
				m.log.Errorw("Source update failed", "source", code, "error", err)
			} else {
				m.log.Infow("Source update completed", "source", code, "updated", updated)
			}
			return nil
		})
	}
	g.Wait()

	return results
}

func (m *Manager) recordStatus(code string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := SourceStatus{Status: "active", LastUpdate: time.Now()}
	if err != nil {
		st.Status = "error"
		st.LastError = err.Error()
	}
	m.status[code] = st
}

// SearchAll fans the query out across every registered source, or only
// those matching types when given. Each source gets its own timeout
// and its own result slot; a failed source yields a result with
// Success false and the error recorded.
func (m *Manager) SearchAll(ctx context.Context, query string, threshold int, types ...SourceType) map[string]SourceResult {
	wanted := make(map[SourceType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	m.mu.RLock()
	codes := make([]string, 0, len(m.order))
	for _, code := range m.order {
		if len(wanted) > 0 && !wanted[m.sources[code].src.Type()] {
			continue
		}
		codes = append(codes, code)
	}
	m.mu.RUnlock()

	results := make(map[string]SourceResult, len(codes))
	var resultsMu sync.Mutex

	var wg sync.WaitGroup
	for _, code := range codes {
		rs, ok := m.get(code)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(code string, rs *registeredSource) {
			defer wg.Done()
			result := m.searchSource(ctx, code, rs, query, threshold)
			resultsMu.Lock()
			results[code] = result
			resultsMu.Unlock()
		}(code, rs)
	}
	wg.Wait()

	return results
}

// SearchOne searches a single source by code.
func (m *Manager) SearchOne(ctx context.Context, code, query string, threshold int) SourceResult {
	rs, ok := m.get(code)
	if !ok {
		return SourceResult{Source: code, Err: ErrUnknownSource}
	}
	return m.searchSource(ctx, code, rs, query, threshold)
}

func (m *Manager) searchSource(ctx context.Context, code string, rs *registeredSource, query string, threshold int) SourceResult {
	start := time.Now()

	if err := rs.throttle(ctx); err != nil {
		return SourceResult{Source: code, Err: err, ProcessingTime: time.Since(start)}
	}

	sctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	matches, err := rs.src.Search(sctx, query, threshold)
	elapsed := time.Since(start)

	if err != nil {
		m.log.Errorw("Source search failed",
			"source", code,
			"query", query,
			"error", err)
		return SourceResult{Source: code, Err: err, ProcessingTime: elapsed}
	}

	return SourceResult{
		Source:         code,
		Success:        true,
		Matches:        matches,
		ProcessingTime: elapsed,
	}
}

// throttle blocks until the source's minimum search interval has
// elapsed, or the context is cancelled.
func (rs *registeredSource) throttle(ctx context.Context) error {
	if rs.minInterval <= 0 {
		return nil
	}

	rs.searchMu.Lock()
	defer rs.searchMu.Unlock()

	if wait := rs.minInterval - time.Since(rs.lastSearch); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	rs.lastSearch = time.Now()
	return nil
}

// Statistics reports per-source data statistics together with the
// operational status recorded by the last refresh.
func (m *Manager) Statistics() ManagerStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStatistics{
		Sources:      make(map[string]SourceStatistics, len(m.sources)),
		Status:       make(map[string]SourceStatus, len(m.status)),
		TotalSources: len(m.sources),
	}
	for code, rs := range m.sources {
		stats.Sources[code] = rs.src.Statistics()
	}
	for code, st := range m.status {
		stats.Status[code] = st
		if st.Status == "active" {
			stats.ActiveSources++
		}
	}
	return stats
}

// IsActive reports whether the source's last refresh succeeded.
func (m *Manager) IsActive(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status[code].Status == "active"
}
