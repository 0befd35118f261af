// Package store persists screening outcomes: sources, per-source
// results (including clean ones, which prove a customer was screened),
// batches, alerts and threshold configuration.
package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Source is the registry row for one screening data source.
type Source struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"size:200;uniqueIndex"`
	Code        string `gorm:"size:50;uniqueIndex"`
	SourceType  string `gorm:"size:50;index"`
	DataURL     string `gorm:"size:500"`
	LastUpdated *time.Time
	IsActive    bool `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Source) TableName() string { return "screening_sources" }

// Result is one customer-against-one-source screening outcome. A row
// with MatchFound false is still written: it is the evidence the
// customer was screened and came back clean.
type Result struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	CustomerID      string    `gorm:"size:100;index:idx_results_customer_source"`
	SourceCode      string    `gorm:"size:50;index:idx_results_customer_source"`
	QueryName       string    `gorm:"size:300"`
	MatchFound      bool      `gorm:"index"`
	MatchType       string    `gorm:"size:50"`
	ConfidenceScore int
	MatchedName     string    `gorm:"size:300"`
	MatchedEntityID string    `gorm:"size:200"`
	EntityType      string    `gorm:"size:100"`
	Programs        string    `gorm:"type:text"` // JSON array
	RawResponse     string    `gorm:"type:text"` // JSON document
	ProcessingTime  int64     // milliseconds
	ErrorMessage    string    `gorm:"type:text"`
	CreatedAt       time.Time `gorm:"index"`
}

func (Result) TableName() string { return "screening_results" }

// Batch tracks the progress of one bulk screening run.
type Batch struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	Name               string `gorm:"size:200"`
	Status             string `gorm:"size:50;index"` // pending, processing, completed, failed, cancelled
	TotalCustomers     int
	ProcessedCustomers int
	MatchesFound       int
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time `gorm:"index"`
}

func (Batch) TableName() string { return "screening_batches" }

// Alert is the persisted form of a screening alert; the live
// lifecycle is managed in memory by the alerts package.
type Alert struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	AlertType     string    `gorm:"size:50;index:idx_alerts_type_severity"`
	Severity      string    `gorm:"size:20;index:idx_alerts_type_severity"`
	Status        string    `gorm:"size:20;index"` // active, acknowledged, resolved
	CustomerID    string    `gorm:"size:100;index"`
	ResultID      string    `gorm:"size:100"`
	SourceCode    string    `gorm:"size:50"`
	Title         string    `gorm:"size:200"`
	Message       string    `gorm:"type:text"`
	AlertData     string    `gorm:"type:text"` // JSON document
	ActionTaken   string    `gorm:"type:text"`
	ActionTakenBy string    `gorm:"size:100"`
	ActionTakenAt *time.Time
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (Alert) TableName() string { return "screening_alerts" }

// Configuration holds screening thresholds. At most one row is the
// default.
type Configuration struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	Name                  string `gorm:"size:200;uniqueIndex"`
	MatchThreshold        int    `gorm:"default:80"`
	AlertThreshold        int    `gorm:"default:90"`
	MaxConcurrentRequests int    `gorm:"default:10"`
	RequestTimeoutSecs    int    `gorm:"default:30"`
	RetryAttempts         int    `gorm:"default:3"`
	EnableAutoAlerts      bool   `gorm:"default:true"`
	IsActive              bool   `gorm:"default:true"`
	IsDefault             bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (Configuration) TableName() string { return "screening_configurations" }

// Customer holds the identity data screening runs are built from.
type Customer struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	FullName    string `gorm:"size:300;index"`
	EntityType  string `gorm:"size:20;default:individual"`
	DateOfBirth string `gorm:"size:20"`
	Nationality string `gorm:"size:100"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Customer) TableName() string { return "customers" }

// BeforeCreate assigns UUID primary keys when the caller left them
// empty.
func (s *Source) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

func (r *Result) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (b *Batch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

func (a *Alert) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (c *Configuration) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
