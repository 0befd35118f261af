package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/matching"
	"github.com/ceres-kyc/screening/internal/screening"
)

// DefaultOpenCorporatesURL is the OpenCorporates API base.
const DefaultOpenCorporatesURL = "https://api.opencorporates.com/v0.4"

// openCorporates screens counterpart company names against the
// OpenCorporates registry aggregation API.
type openCorporates struct {
	baseURL string
	apiKey  string
	fetch   *Fetcher
	log     *zap.SugaredLogger

	verifiedAt atomic.Pointer[time.Time]
}

// NewOpenCorporates builds the corporate registry adapter.
func NewOpenCorporates(baseURL, apiKey string, fetch *Fetcher, log *zap.SugaredLogger) screening.Source {
	if baseURL == "" {
		baseURL = DefaultOpenCorporatesURL
	}
	return &openCorporates{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   fetch,
		log:     log,
	}
}

func (s *openCorporates) Code() string               { return "opencorporates" }
func (s *openCorporates) Name() string               { return "OpenCorporates" }
func (s *openCorporates) Type() screening.SourceType { return screening.SourceTypeCorporate }

func (s *openCorporates) searchURL(query string, perPage int) string {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("per_page", fmt.Sprintf("%d", perPage))
	if s.apiKey != "" {
		params.Set("api_token", s.apiKey)
	}
	return s.baseURL + "/companies/search?" + params.Encode()
}

// Refresh probes the companies search endpoint.
func (s *openCorporates) Refresh(ctx context.Context, force bool) (bool, error) {
	if _, err := s.fetch.Get(ctx, s.searchURL("test", 1), nil); err != nil {
		return false, fmt.Errorf("opencorporates connectivity check failed: %w", err)
	}

	now := time.Now()
	s.verifiedAt.Store(&now)
	s.log.Infow("OpenCorporates API connectivity verified")
	return true, nil
}

type openCorporatesResponse struct {
	Results struct {
		Companies []struct {
			Company openCorporatesCompany `json:"company"`
		} `json:"companies"`
	} `json:"results"`
}

type openCorporatesCompany struct {
	Name              string `json:"name"`
	CompanyNumber     string `json:"company_number"`
	JurisdictionCode  string `json:"jurisdiction_code"`
	CompanyType       string `json:"company_type"`
	IncorporationDate string `json:"incorporation_date"`
	RegistryURL       string `json:"opencorporates_url"`
}

func (s *openCorporates) Search(ctx context.Context, query string, threshold int) ([]screening.Match, error) {
	body, err := s.fetch.Get(ctx, s.searchURL(query, 20), nil)
	if err != nil {
		return nil, fmt.Errorf("opencorporates search failed: %w", err)
	}

	var resp openCorporatesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse opencorporates response: %w", err)
	}

	var matches []screening.Match
	for _, item := range resp.Results.Companies {
		company := item.Company
		if company.Name == "" || company.CompanyNumber == "" {
			continue
		}

		score := matching.Score(query, company.Name)
		if score < threshold {
			continue
		}

		matchType := screening.MatchTypeFuzzy
		if score == 100 {
			matchType = screening.MatchTypeExact
		}
		entityID := company.JurisdictionCode + "/" + company.CompanyNumber
		entity := &screening.WatchlistEntity{
			SourceID:    s.Code(),
			EntityID:    entityID,
			PrimaryName: company.Name,
			EntityType:  screening.EntityTypeEntity,
			Remarks:     companyRemarks(company),
		}
		matches = append(matches, screening.Match{
			Source:      s.Code(),
			EntityID:    entityID,
			MatchedName: company.Name,
			Confidence:  score,
			EntityType:  screening.EntityTypeEntity,
			MatchType:   matchType,
			Entity:      entity,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	s.log.Infow("OpenCorporates search completed",
		"query", query,
		"matches", len(matches))
	return matches, nil
}

func companyRemarks(c openCorporatesCompany) string {
	var parts []string
	if c.CompanyType != "" {
		parts = append(parts, c.CompanyType)
	}
	if c.IncorporationDate != "" {
		parts = append(parts, "incorporated "+c.IncorporationDate)
	}
	if c.RegistryURL != "" {
		parts = append(parts, c.RegistryURL)
	}
	return strings.Join(parts, "; ")
}

func (s *openCorporates) Statistics() screening.SourceStatistics {
	stats := screening.SourceStatistics{
		Code:      s.Code(),
		APIStatus: "disconnected",
	}
	if verified := s.verifiedAt.Load(); verified != nil {
		stats.APIStatus = "connected"
		stats.LastUpdated = *verified
	}
	return stats
}
