// Package screening implements the sanctions/PEP screening core: a
// registry of watchlist source adapters, concurrent federated search,
// and the orchestration that turns matches into persisted results and
// alerts.
package screening

import (
	"context"
	"errors"
	"time"
)

// Caller-input failures. Everything else (source outages, parse errors,
// cache misses) is converted to structured result data, never raised.
var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrInvalidQuery     = errors.New("invalid screening query")
	ErrUnknownSource    = errors.New("unknown screening source")
	ErrBatchNotFound    = errors.New("screening batch not found")
	ErrAllSourcesFailed = errors.New("all screening sources failed")
)

// SourceType categorizes a watchlist source.
type SourceType string

const (
	SourceTypeSanctions SourceType = "sanctions"
	SourceTypePEP       SourceType = "pep"
	SourceTypeCorporate SourceType = "corporate"
	SourceTypeMedia     SourceType = "media"
)

// EntityType distinguishes individuals from legal entities.
type EntityType string

const (
	EntityTypeIndividual EntityType = "individual"
	EntityTypeEntity     EntityType = "entity"
	EntityTypeVessel     EntityType = "vessel"
)

// MatchType records how a match was established.
type MatchType string

const (
	MatchTypeExact MatchType = "exact"
	MatchTypeFuzzy MatchType = "fuzzy"
)

// RiskLevel classifies the aggregate outcome of a screening run.
type RiskLevel string

const (
	RiskLevelNone     RiskLevel = "none"
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// DeriveRiskLevel maps a confidence score to a risk classification.
// The same ladder drives alert severity: >=95 critical, >=90 high,
// >=80 medium, else low.
func DeriveRiskLevel(confidence float64) RiskLevel {
	switch {
	case confidence >= 95:
		return RiskLevelCritical
	case confidence >= 90:
		return RiskLevelHigh
	case confidence >= 80:
		return RiskLevelMedium
	case confidence > 0:
		return RiskLevelLow
	default:
		return RiskLevelNone
	}
}

// Query is the transient input of a single screening request. It is
// derived from customer identity data per request and never persisted.
type Query struct {
	Name           string     `json:"name" validate:"required,min=2"`
	EntityType     EntityType `json:"entity_type" validate:"omitempty,oneof=individual entity vessel"`
	DateOfBirth    string     `json:"date_of_birth,omitempty"`
	Nationality    string     `json:"nationality,omitempty"`
	DocumentNumber string     `json:"document_number,omitempty"`
}

// Address is a location associated with a watchlist entity.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Identifier is an identification document or registration number.
type Identifier struct {
	Type    string `json:"type"`
	Number  string `json:"number"`
	Country string `json:"country,omitempty"`
}

// WatchlistEntity is one cached record from a screening source. Each
// entity belongs to exactly one source; the owning adapter rebuilds its
// whole table on refresh and swaps it in atomically.
type WatchlistEntity struct {
	SourceID      string       `json:"source_id"`
	EntityID      string       `json:"entity_id"`
	PrimaryName   string       `json:"primary_name"`
	Aliases       []string     `json:"aliases,omitempty"`
	EntityType    EntityType   `json:"entity_type"`
	Programs      []string     `json:"programs,omitempty"`
	Addresses     []Address    `json:"addresses,omitempty"`
	Identifiers   []Identifier `json:"identifiers,omitempty"`
	BirthDates    []string     `json:"birth_dates,omitempty"`
	Nationalities []string     `json:"nationalities,omitempty"`
	Remarks       string       `json:"remarks,omitempty"`
}

// Match is the transient result of scoring one query against one
// watchlist entity. Matches only outlive a search call as part of a
// persisted ScreeningResult.
type Match struct {
	Source      string     `json:"source"`
	EntityID    string     `json:"entity_id"`
	MatchedName string     `json:"matched_name"`
	Confidence  int        `json:"confidence"`
	EntityType  EntityType `json:"entity_type"`
	Programs    []string   `json:"programs,omitempty"`
	MatchType   MatchType  `json:"match_type"`
	Entity      *WatchlistEntity `json:"-"`
}

// Source is one watchlist data source. Implementations live in the
// sources package and must be safe for concurrent use: Search may run
// while Refresh rebuilds the underlying data.
type Source interface {
	// Code returns the stable registry key, e.g. "ofac_sdn".
	Code() string
	// Name returns the human-readable source name.
	Name() string
	// Type categorizes the source (sanctions, pep, corporate).
	Type() SourceType

	// Refresh brings the source's data up to date. It returns true if
	// data was (re)loaded and false when the cached table was still
	// fresh. When force is set the freshness window is ignored.
	Refresh(ctx context.Context, force bool) (bool, error)

	// Search scores the query against the source and returns matches
	// at or above threshold, ordered by descending confidence.
	Search(ctx context.Context, query string, threshold int) ([]Match, error)

	// Statistics reports the current state of the loaded data.
	Statistics() SourceStatistics
}

// SourceStatistics describes a source's loaded data set. Query-API
// adapters report connectivity instead of entity counts.
type SourceStatistics struct {
	Code          string         `json:"code"`
	TotalEntities int            `json:"total_entities"`
	LastUpdated   time.Time      `json:"last_updated"`
	EntityTypes   map[string]int `json:"entity_types,omitempty"`
	Programs      map[string]int `json:"programs,omitempty"`
	APIStatus     string         `json:"api_status,omitempty"`
}

// SourceResult is the outcome of searching a single source: either a
// match list or a recorded error, never a raised exception. One bad
// source must not abort a multi-source run.
type SourceResult struct {
	Source         string        `json:"source"`
	Success        bool          `json:"success"`
	Matches        []Match       `json:"matches"`
	ProcessingTime time.Duration `json:"processing_time"`
	Err            error         `json:"-"`
}

// ErrorMessage returns the recorded error text, empty on success.
func (r SourceResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
