package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ceres-kyc/screening/internal/alerts"
	"github.com/ceres-kyc/screening/internal/cache"
	"github.com/ceres-kyc/screening/internal/metrics"
	"github.com/ceres-kyc/screening/internal/screening/store"
)

// Customer is the identity data a screening run is built from.
type Customer struct {
	ID          string     `json:"id"`
	FullName    string     `json:"full_name"`
	EntityType  EntityType `json:"entity_type"`
	DateOfBirth string     `json:"date_of_birth,omitempty"`
	Nationality string     `json:"nationality,omitempty"`
}

// CustomerDirectory resolves customer identity data for screening.
// Implementations return ErrCustomerNotFound for unknown ids.
type CustomerDirectory interface {
	Customer(ctx context.Context, id string) (*Customer, error)
}

// ScreenOptions tunes a single screening run.
type ScreenOptions struct {
	// SourceTypes restricts the run to matching source categories.
	// Empty means every registered source.
	SourceTypes []SourceType
	// ForceRefresh skips the freshness-window short-circuit.
	ForceRefresh bool
}

// RunSummary is the outcome of one screening run.
type RunSummary struct {
	CustomerID      string        `json:"customer_id"`
	QueryName       string        `json:"query_name"`
	ResultsCount    int           `json:"results_count"`
	MatchesFound    int           `json:"matches_found"`
	HighRiskMatches int           `json:"high_risk_matches"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	FromCache       bool          `json:"from_cache"`
	ProcessingTime  time.Duration `json:"processing_time"`
	ScreenedAt      time.Time     `json:"screened_at"`
}

// CustomerSummary aggregates a customer's screening history.
type CustomerSummary struct {
	CustomerID          string     `json:"customer_id"`
	TotalSourcesChecked int        `json:"total_sources_checked"`
	MatchesFound        int        `json:"matches_found"`
	HighRiskMatches     int        `json:"high_risk_matches"`
	MediumRiskMatches   int        `json:"medium_risk_matches"`
	LowRiskMatches      int        `json:"low_risk_matches"`
	OverallRiskScore    int        `json:"overall_risk_score"`
	RiskLevel           RiskLevel  `json:"risk_level"`
	AlertsCount         int64      `json:"alerts_count"`
	LastScreened        *time.Time `json:"last_screened,omitempty"`
}

// EngineConfig carries the orchestration thresholds and limits.
type EngineConfig struct {
	MatchThreshold   int
	AlertThreshold   int
	FreshnessWindow  time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	BatchConcurrency int
}

func (c *EngineConfig) applyDefaults() {
	if c.MatchThreshold == 0 {
		c.MatchThreshold = 80
	}
	if c.AlertThreshold == 0 {
		c.AlertThreshold = 90
	}
	if c.FreshnessWindow == 0 {
		c.FreshnessWindow = 24 * time.Hour
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = 10
	}
}

// Engine orchestrates screening runs: freshness checks, federated
// search, result persistence, alerting and caching.
type Engine struct {
	log       *zap.SugaredLogger
	manager   *Manager
	store     *store.Store
	cache     *cache.Manager
	alerts    *alerts.Manager
	directory CustomerDirectory
	validate  *validator.Validate
	cfg       EngineConfig
}

// NewEngine wires the orchestrator. The cache may be nil.
func NewEngine(manager *Manager, st *store.Store, cacheMgr *cache.Manager, alertMgr *alerts.Manager, directory CustomerDirectory, cfg EngineConfig, log *zap.SugaredLogger) *Engine {
	cfg.applyDefaults()
	return &Engine{
		log:       log,
		manager:   manager,
		store:     st,
		cache:     cacheMgr,
		alerts:    alertMgr,
		directory: directory,
		validate:  validator.New(),
		cfg:       cfg,
	}
}

// Screen runs one customer against the registered sources. Inside the
// freshness window an earlier run is reused instead of hitting the
// sources again, unless opts.ForceRefresh is set.
func (e *Engine) Screen(ctx context.Context, customerID string, opts ScreenOptions) (*RunSummary, error) {
	started := time.Now()

	customer, err := e.directory.Customer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	query := Query{
		Name:        customer.FullName,
		EntityType:  customer.EntityType,
		DateOfBirth: customer.DateOfBirth,
		Nationality: customer.Nationality,
	}
	if err := e.validate.Struct(query); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	if !opts.ForceRefresh {
		if summary := e.freshSummary(ctx, customerID); summary != nil {
			e.log.Infow("Reusing recent screening results",
				"customer_id", customerID,
				"results_count", summary.ResultsCount)
			return summary, nil
		}
	}

	results := e.manager.SearchAll(ctx, query.Name, e.cfg.MatchThreshold, opts.SourceTypes...)
	e.retryFailed(ctx, query.Name, results)

	summary := &RunSummary{
		CustomerID: customerID,
		QueryName:  query.Name,
		ScreenedAt: started,
	}

	rows := make([]*store.Result, 0, len(results))
	seenAlerts := make(map[string]struct{})
	for code, result := range results {
		metrics.ObserveSearch(code, result.Success, result.ProcessingTime, len(result.Matches))

		raw, _ := json.Marshal(result)
		if result.Success && len(result.Matches) > 0 {
			for _, match := range result.Matches {
				programs, _ := json.Marshal(match.Programs)
				row := &store.Result{
					CustomerID:      customerID,
					SourceCode:      code,
					QueryName:       query.Name,
					MatchFound:      true,
					MatchType:       string(match.MatchType),
					ConfidenceScore: match.Confidence,
					MatchedName:     match.MatchedName,
					MatchedEntityID: match.EntityID,
					EntityType:      string(match.EntityType),
					Programs:        string(programs),
					RawResponse:     string(raw),
					ProcessingTime:  result.ProcessingTime.Milliseconds(),
				}
				rows = append(rows, row)
				summary.MatchesFound++
				if match.Confidence >= e.cfg.AlertThreshold {
					summary.HighRiskMatches++
				}
			}
		} else {
			rows = append(rows, &store.Result{
				CustomerID:     customerID,
				SourceCode:     code,
				QueryName:      query.Name,
				MatchFound:     false,
				RawResponse:    string(raw),
				ProcessingTime: result.ProcessingTime.Milliseconds(),
				ErrorMessage:   result.ErrorMessage(),
			})
		}
	}
	summary.ResultsCount = len(rows)

	if err := e.store.SaveResults(ctx, rows); err != nil {
		return nil, fmt.Errorf("failed to persist screening results: %w", err)
	}

	// Error rows are persisted above for the audit trail, but a run in
	// which no source answered must not read as a clean screening.
	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}
	if len(results) > 0 && failed == len(results) {
		e.log.Errorw("All screening sources failed",
			"customer_id", customerID,
			"sources", len(results))
		return nil, fmt.Errorf("%w: %d of %d sources errored", ErrAllSourcesFailed, failed, len(results))
	}

	highest := 0
	for _, row := range rows {
		if row.MatchFound && row.ConfidenceScore > highest {
			highest = row.ConfidenceScore
		}
	}
	summary.RiskLevel = DeriveRiskLevel(float64(highest))

	for _, row := range rows {
		if !row.MatchFound || row.ConfidenceScore < e.cfg.AlertThreshold {
			continue
		}
		e.raiseAlert(ctx, customer, row, seenAlerts)
	}

	summary.ProcessingTime = time.Since(started)
	e.cacheSummary(ctx, customerID, summary)

	e.log.Infow("Screening completed",
		"customer_id", customerID,
		"results_count", summary.ResultsCount,
		"matches_found", summary.MatchesFound,
		"high_risk_matches", summary.HighRiskMatches,
		"risk_level", summary.RiskLevel)
	return summary, nil
}

// freshSummary returns a reusable summary when the customer was
// screened within the freshness window, checking the cache before the
// database.
func (e *Engine) freshSummary(ctx context.Context, customerID string) *RunSummary {
	if e.cache != nil {
		var cached RunSummary
		found, err := e.cache.Get(ctx, cache.PrefixScreeningResult, customerID, &cached)
		if err == nil && found && time.Since(cached.ScreenedAt) < e.cfg.FreshnessWindow {
			cached.FromCache = true
			return &cached
		}
	}

	cutoff := time.Now().Add(-e.cfg.FreshnessWindow)
	rows, err := e.store.ResultsSince(ctx, customerID, cutoff)
	if err != nil {
		e.log.Warnw("Freshness lookup failed", "customer_id", customerID, "error", err)
		return nil
	}
	if len(rows) == 0 {
		return nil
	}

	summary := &RunSummary{
		CustomerID: customerID,
		QueryName:  rows[0].QueryName,
		FromCache:  true,
		ScreenedAt: rows[0].CreatedAt,
	}
	highest := 0
	for _, row := range rows {
		summary.ResultsCount++
		if row.MatchFound {
			summary.MatchesFound++
			if row.ConfidenceScore >= e.cfg.AlertThreshold {
				summary.HighRiskMatches++
			}
			if row.ConfidenceScore > highest {
				highest = row.ConfidenceScore
			}
		}
	}
	summary.RiskLevel = DeriveRiskLevel(float64(highest))
	return summary
}

// retryFailed re-runs failed sources with exponential backoff. The
// final outcome, good or bad, replaces the original entry.
func (e *Engine) retryFailed(ctx context.Context, query string, results map[string]SourceResult) {
	for code, result := range results {
		if result.Success {
			continue
		}
		for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
			delay := e.cfg.RetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			e.log.Warnw("Retrying failed source",
				"source", code, "attempt", attempt, "error", result.ErrorMessage())
			retried := e.manager.SearchOne(ctx, code, query, e.cfg.MatchThreshold)
			results[code] = retried
			if retried.Success {
				break
			}
			result = retried
		}
	}
}

// raiseAlert creates one alert per (customer, source, entity) in a run.
func (e *Engine) raiseAlert(ctx context.Context, customer *Customer, row *store.Result, seen map[string]struct{}) {
	key := customer.ID + "|" + row.SourceCode + "|" + row.MatchedEntityID
	if _, dup := seen[key]; dup {
		return
	}
	seen[key] = struct{}{}

	severity := alerts.SeverityForConfidence(row.ConfidenceScore)
	title := fmt.Sprintf("High-risk match found: %s", row.MatchedName)
	message := fmt.Sprintf("Customer %s matched %s in %s with %d%% confidence.",
		row.QueryName, row.MatchedName, row.SourceCode, row.ConfidenceScore)

	e.alerts.Create(ctx, alerts.TypeHighRiskMatch, severity, title, message, customer.ID, "", map[string]any{
		"confidence_score": row.ConfidenceScore,
		"match_type":       row.MatchType,
		"entity_type":      row.EntityType,
		"source_code":      row.SourceCode,
		"result_id":        row.ID,
	})
	metrics.ObserveAlert(string(severity))
}

// cacheSummary stales derived entries for the customer and stores the
// fresh run summary. Cache failures never fail the screening call.
func (e *Engine) cacheSummary(ctx context.Context, customerID string, summary *RunSummary) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateEvent(ctx, cache.EventScreeningCompleted, customerID); err != nil {
		e.log.Warnw("Cache invalidation failed", "customer_id", customerID, "error", err)
	}
	if err := e.cache.Set(ctx, cache.PrefixScreeningResult, customerID, summary, 0); err != nil {
		e.log.Warnw("Cache write failed", "customer_id", customerID, "error", err)
	}
}

// BatchScreen screens a set of customers with bounded concurrency and
// tracks progress in a persisted batch row. A failing customer is
// logged and skipped; the batch itself still completes.
func (e *Engine) BatchScreen(ctx context.Context, name string, customerIDs []string, opts ScreenOptions) (*store.Batch, error) {
	now := time.Now()
	batch := &store.Batch{
		ID:             uuid.NewString(),
		Name:           name,
		Status:         "processing",
		TotalCustomers: len(customerIDs),
		StartedAt:      &now,
	}
	if err := e.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create screening batch: %w", err)
	}

	metrics.BatchStarted()
	defer metrics.BatchFinished()

	// bulk runs always hit the sources, matching the original tasks
	opts.ForceRefresh = true

	sem := semaphore.NewWeighted(int64(e.cfg.BatchConcurrency))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
		matches   int
	)
	for _, customerID := range customerIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			summary, err := e.Screen(ctx, id, opts)

			mu.Lock()
			processed++
			if err != nil {
				e.log.Errorw("Batch customer screening failed",
					"batch_id", batch.ID, "customer_id", id, "error", err)
			} else {
				matches += summary.MatchesFound
			}
			p, m := processed, matches
			mu.Unlock()

			if err := e.store.UpdateBatchProgress(ctx, batch.ID, p, m); err != nil {
				e.log.Warnw("Batch progress update failed", "batch_id", batch.ID, "error", err)
			}
		}(customerID)
	}
	wg.Wait()

	// per-goroutine progress writes may land out of order; write the
	// final counters once everything is done
	if err := e.store.UpdateBatchProgress(ctx, batch.ID, processed, matches); err != nil {
		e.log.Warnw("Batch progress update failed", "batch_id", batch.ID, "error", err)
	}

	status := "completed"
	if ctx.Err() != nil {
		status = "failed"
	}
	// final bookkeeping must land even when the run context is gone
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.store.FinishBatch(finishCtx, batch.ID, status); err != nil {
		e.log.Errorw("Failed to finish batch", "batch_id", batch.ID, "error", err)
	}

	done, err := e.store.BatchByID(finishCtx, batch.ID)
	if err != nil {
		return nil, err
	}
	e.log.Infow("Batch screening finished",
		"batch_id", done.ID,
		"processed", done.ProcessedCustomers,
		"total", done.TotalCustomers,
		"matches_found", done.MatchesFound,
		"status", done.Status)
	return done, nil
}

// Batch returns one batch row, ErrBatchNotFound when absent.
func (e *Engine) Batch(ctx context.Context, id string) (*store.Batch, error) {
	b, err := e.store.BatchByID(ctx, id)
	if err == store.ErrNotFound {
		return nil, ErrBatchNotFound
	}
	return b, err
}

// CustomerSummary aggregates a customer's screening history. The
// overall risk score is the highest match confidence on record.
func (e *Engine) CustomerSummary(ctx context.Context, customerID string) (*CustomerSummary, error) {
	if e.cache != nil {
		var cached CustomerSummary
		found, err := e.cache.Get(ctx, cache.PrefixRiskAssessment, customerID, &cached)
		if err == nil && found {
			return &cached, nil
		}
	}

	rows, err := e.store.ResultsForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	summary := &CustomerSummary{CustomerID: customerID}
	sources := make(map[string]struct{})
	highest := 0
	for _, row := range rows {
		sources[row.SourceCode] = struct{}{}
		if summary.LastScreened == nil || row.CreatedAt.After(*summary.LastScreened) {
			t := row.CreatedAt
			summary.LastScreened = &t
		}
		if !row.MatchFound {
			continue
		}
		summary.MatchesFound++
		switch DeriveRiskLevel(float64(row.ConfidenceScore)) {
		case RiskLevelCritical, RiskLevelHigh:
			summary.HighRiskMatches++
		case RiskLevelMedium:
			summary.MediumRiskMatches++
		default:
			summary.LowRiskMatches++
		}
		if row.ConfidenceScore > highest {
			highest = row.ConfidenceScore
		}
	}
	summary.TotalSourcesChecked = len(sources)
	summary.OverallRiskScore = highest
	summary.RiskLevel = DeriveRiskLevel(float64(highest))

	if count, err := e.store.CountActiveAlerts(ctx, customerID); err == nil {
		summary.AlertsCount = count
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, cache.PrefixRiskAssessment, customerID, summary, 0); err != nil {
			e.log.Warnw("Cache write failed", "customer_id", customerID, "error", err)
		}
	}
	return summary, nil
}

// CustomerMatches returns a customer's positive results, newest first.
func (e *Engine) CustomerMatches(ctx context.Context, customerID string, limit int) ([]store.Result, error) {
	return e.store.MatchesForCustomer(ctx, customerID, limit)
}
