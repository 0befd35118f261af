package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// Store wraps the screening database.
type Store struct {
	db *gorm.DB
}

// NewPostgres opens a pooled PostgreSQL connection and runs the schema
// migration.
func NewPostgres(dsn string, maxOpen, maxIdle int) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Warn),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	if maxOpen == 0 {
		maxOpen = 25
	}
	if maxIdle == 0 {
		maxIdle = 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)

	return New(db)
}

// New wraps an open gorm handle and migrates the screening tables.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Source{}, &Result{}, &Batch{}, &Alert{}, &Configuration{}, &Customer{}); err != nil {
		return nil, fmt.Errorf("failed to migrate screening schema: %w", err)
	}
	return &Store{db: db}, nil
}

// UpsertSource creates or updates the registry row for a source code.
func (s *Store) UpsertSource(ctx context.Context, src *Source) error {
	var existing Source
	err := s.db.WithContext(ctx).Where("code = ?", src.Code).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(src).Error
	}
	if err != nil {
		return err
	}
	src.ID = existing.ID
	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
		"name":         src.Name,
		"source_type":  src.SourceType,
		"data_url":     src.DataURL,
		"last_updated": src.LastUpdated,
		"is_active":    src.IsActive,
	}).Error
}

// TouchSourceUpdated stamps a source's last successful refresh.
func (s *Store) TouchSourceUpdated(ctx context.Context, code string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&Source{}).
		Where("code = ?", code).
		Update("last_updated", &at).Error
}

// SourceByCode returns the registry row for code.
func (s *Store) SourceByCode(ctx context.Context, code string) (*Source, error) {
	var src Source
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&src).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &src, nil
}

// SaveCustomer inserts or updates a customer row.
func (s *Store) SaveCustomer(ctx context.Context, c *Customer) error {
	return s.db.WithContext(ctx).Save(c).Error
}

// CustomerByID returns one customer row.
func (s *Store) CustomerByID(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SaveResult persists one screening result row.
func (s *Store) SaveResult(ctx context.Context, r *Result) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// SaveResults persists a batch of result rows in one transaction.
func (s *Store) SaveResults(ctx context.Context, results []*Result) error {
	if len(results) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(results).Error
}

// LatestResult returns the newest result for the customer/source pair.
func (s *Store) LatestResult(ctx context.Context, customerID, sourceCode string) (*Result, error) {
	var r Result
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND source_code = ?", customerID, sourceCode).
		Order("created_at DESC").
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ResultsSince returns all results for a customer created at or after
// the cutoff, newest first.
func (s *Store) ResultsSince(ctx context.Context, customerID string, cutoff time.Time) ([]Result, error) {
	var results []Result
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND created_at >= ?", customerID, cutoff).
		Order("created_at DESC").
		Find(&results).Error
	return results, err
}

// ResultsForCustomer returns every result row for a customer, newest
// first.
func (s *Store) ResultsForCustomer(ctx context.Context, customerID string) ([]Result, error) {
	var results []Result
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&results).Error
	return results, err
}

// MatchesForCustomer returns the customer's positive results, newest
// first, capped at limit (0 for no cap).
func (s *Store) MatchesForCustomer(ctx context.Context, customerID string, limit int) ([]Result, error) {
	q := s.db.WithContext(ctx).
		Where("customer_id = ? AND match_found = ?", customerID, true).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []Result
	err := q.Find(&results).Error
	return results, err
}

// CreateBatch records a new bulk screening run.
func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	return s.db.WithContext(ctx).Create(b).Error
}

// UpdateBatchProgress bumps a running batch's counters.
func (s *Store) UpdateBatchProgress(ctx context.Context, id string, processed, matches int) error {
	return s.db.WithContext(ctx).Model(&Batch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_customers": processed,
			"matches_found":       matches,
		}).Error
}

// FinishBatch marks a batch completed or failed.
func (s *Store) FinishBatch(ctx context.Context, id, status string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Batch{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       status,
			"completed_at": &now,
		}).Error
}

// BatchByID returns one batch row.
func (s *Store) BatchByID(ctx context.Context, id string) (*Batch, error) {
	var b Batch
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// SaveAlert persists a new alert row.
func (s *Store) SaveAlert(ctx context.Context, a *Alert) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// UpdateAlertStatus transitions a persisted alert and records who
// acted on it.
func (s *Store) UpdateAlertStatus(ctx context.Context, id, status, actionTaken, actor string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&Alert{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"action_taken":    actionTaken,
			"action_taken_by": actor,
			"action_taken_at": &now,
		}).Error
}

// ActiveAlerts returns unresolved alert rows, newest first.
func (s *Store) ActiveAlerts(ctx context.Context, limit int) ([]Alert, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []string{"active", "acknowledged"}).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []Alert
	err := q.Find(&alerts).Error
	return alerts, err
}

// CountActiveAlerts returns how many unresolved alerts a customer has.
func (s *Store) CountActiveAlerts(ctx context.Context, customerID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Where("customer_id = ? AND status IN ?", customerID, []string{"active", "acknowledged"}).
		Count(&count).Error
	return count, err
}

// DefaultConfiguration returns the default threshold configuration,
// creating the built-in one on first use.
func (s *Store) DefaultConfiguration(ctx context.Context) (*Configuration, error) {
	var cfg Configuration
	err := s.db.WithContext(ctx).Where("is_default = ?", true).First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cfg = Configuration{
		Name:                  "default",
		MatchThreshold:        80,
		AlertThreshold:        90,
		MaxConcurrentRequests: 10,
		RequestTimeoutSecs:    30,
		RetryAttempts:         3,
		EnableAutoAlerts:      true,
		IsActive:              true,
		IsDefault:             true,
	}
	if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}
