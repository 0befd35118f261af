// Package sources contains the watchlist source adapters. List-backed
// adapters (OFAC, UN, EU, UK OFSI) download the full published list,
// parse it into an in-memory table and serve searches locally. Query
// adapters (OpenSanctions, OpenCorporates) forward each search to the
// provider's API.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/matching"
	"github.com/ceres-kyc/screening/internal/screening"
)

// Fetcher is the shared HTTP transport for all adapters. Downloads are
// retried with a fixed delay because the official list endpoints fail
// transiently during their own publication windows.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
	log        *zap.SugaredLogger
}

// NewFetcher builds a Fetcher. maxRetries counts attempts, not
// re-attempts, and is clamped to at least one.
func NewFetcher(timeout time.Duration, maxRetries int, retryDelay time.Duration, userAgent string, log *zap.SugaredLogger) *Fetcher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		client:     &http.Client{Timeout: timeout},
		userAgent:  userAgent,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log,
	}
}

// Get downloads url, retrying transient failures. Extra headers are
// applied to every attempt.
func (f *Fetcher) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
			f.log.Warnw("Retrying download",
				"url", url,
				"attempt", attempt+1,
				"error", lastErr)
		}

		body, err := f.get(ctx, url, header)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", f.maxRetries, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// watchTable is one immutable snapshot of a list source's entities.
// Refresh builds a new table and swaps it in atomically so searches
// never observe a partially rebuilt list.
type watchTable struct {
	entities []screening.WatchlistEntity
	// buckets maps the Soundex code of each name token to the indices
	// of entities carrying that token in the primary name or an alias.
	buckets map[string][]int
}

func newWatchTable(entities []screening.WatchlistEntity) *watchTable {
	t := &watchTable{
		entities: entities,
		buckets:  make(map[string][]int),
	}
	for i, e := range entities {
		seen := make(map[string]bool)
		names := append([]string{e.PrimaryName}, e.Aliases...)
		for _, name := range names {
			for _, tok := range matching.Tokens(name) {
				code := matching.Soundex(tok)
				if code == "" || seen[code] {
					continue
				}
				seen[code] = true
				t.buckets[code] = append(t.buckets[code], i)
			}
		}
	}
	return t
}

// candidates returns the indices of entities sharing a Soundex token
// bucket with the query. This prunes the scan; the Levenshtein score
// still decides every match.
func (t *watchTable) candidates(query string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, tok := range matching.Tokens(query) {
		for _, idx := range t.buckets[matching.Soundex(tok)] {
			if !seen[idx] {
				seen[idx] = true
				out = append(out, idx)
			}
		}
	}
	return out
}

// parseFunc turns a downloaded list payload into watchlist entities.
// Individual malformed records are skipped inside the parser; only a
// payload that yields nothing at all is an error.
type parseFunc func(data []byte) ([]screening.WatchlistEntity, error)

// listSource implements Source for adapters backed by a downloadable
// list. The concrete adapters supply the URL and the parser.
type listSource struct {
	code string
	name string
	kind screening.SourceType
	url  string
	ttl  time.Duration

	fetch *Fetcher
	log   *zap.SugaredLogger
	parse parseFunc

	mu    sync.Mutex // serializes refreshes
	table atomic.Pointer[watchTable]
	since atomic.Pointer[time.Time]
}

func (s *listSource) Code() string               { return s.code }
func (s *listSource) Name() string               { return s.name }
func (s *listSource) Type() screening.SourceType { return s.kind }

func (s *listSource) fresh() bool {
	last := s.since.Load()
	return last != nil && s.table.Load() != nil && time.Since(*last) < s.ttl
}

func (s *listSource) Refresh(ctx context.Context, force bool) (bool, error) {
	if !force && s.fresh() {
		s.log.Infow("Source data cache is valid, skipping update", "source", s.code)
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another refresh may have completed while we waited on the lock.
	if !force && s.fresh() {
		return false, nil
	}

	s.log.Infow("Updating source data", "source", s.code, "url", s.url)

	body, err := s.fetch.Get(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", s.code, err)
	}

	entities, err := s.parse(body)
	if err != nil {
		return false, fmt.Errorf("%s: %w", s.code, err)
	}
	if len(entities) == 0 {
		return false, fmt.Errorf("%s: no entities parsed from list", s.code)
	}

	s.table.Store(newWatchTable(entities))
	now := time.Now()
	s.since.Store(&now)

	s.log.Infow("Source data updated",
		"source", s.code,
		"entities", len(entities))
	return true, nil
}

func (s *listSource) Search(ctx context.Context, query string, threshold int) ([]screening.Match, error) {
	table := s.table.Load()
	if table == nil {
		// First search before any scheduled refresh loads the list
		// on demand.
		if _, err := s.Refresh(ctx, false); err != nil {
			return nil, err
		}
		table = s.table.Load()
	}

	var matches []screening.Match
	for _, idx := range table.candidates(query) {
		e := &table.entities[idx]
		matched, score := matching.BestMatch(query, e.PrimaryName, e.Aliases)
		if score < threshold {
			continue
		}
		matchType := screening.MatchTypeFuzzy
		if score == 100 {
			matchType = screening.MatchTypeExact
		}
		matches = append(matches, screening.Match{
			Source:      s.code,
			EntityID:    e.EntityID,
			MatchedName: matched,
			Confidence:  score,
			EntityType:  e.EntityType,
			Programs:    e.Programs,
			MatchType:   matchType,
			Entity:      e,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	s.log.Infow("Source search completed",
		"source", s.code,
		"query", query,
		"matches", len(matches))
	return matches, nil
}

func (s *listSource) Statistics() screening.SourceStatistics {
	stats := screening.SourceStatistics{
		Code:        s.code,
		EntityTypes: make(map[string]int),
		Programs:    make(map[string]int),
	}
	if last := s.since.Load(); last != nil {
		stats.LastUpdated = *last
	}
	table := s.table.Load()
	if table == nil {
		return stats
	}
	stats.TotalEntities = len(table.entities)
	for _, e := range table.entities {
		stats.EntityTypes[string(e.EntityType)]++
		for _, p := range e.Programs {
			stats.Programs[p]++
		}
	}
	return stats
}
