package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/matching"
	"github.com/ceres-kyc/screening/internal/screening"
)

// DefaultOpenSanctionsURL is the OpenSanctions API base.
const DefaultOpenSanctionsURL = "https://api.opensanctions.org"

// openSanctions screens against the OpenSanctions PEP dataset through
// its search API. Nothing is pre-loaded; Refresh only verifies
// connectivity.
type openSanctions struct {
	baseURL string
	apiKey  string
	fetch   *Fetcher
	log     *zap.SugaredLogger

	verifiedAt atomic.Pointer[time.Time]
}

// NewOpenSanctions builds the OpenSanctions PEP adapter. apiKey may be
// empty for the anonymous rate-limited tier.
func NewOpenSanctions(baseURL, apiKey string, fetch *Fetcher, log *zap.SugaredLogger) screening.Source {
	if baseURL == "" {
		baseURL = DefaultOpenSanctionsURL
	}
	return &openSanctions{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   fetch,
		log:     log,
	}
}

func (s *openSanctions) Code() string               { return "opensanctions_pep" }
func (s *openSanctions) Name() string               { return "OpenSanctions PEP" }
func (s *openSanctions) Type() screening.SourceType { return screening.SourceTypePEP }

func (s *openSanctions) header() http.Header {
	h := http.Header{}
	if s.apiKey != "" {
		h.Set("Authorization", "Bearer "+s.apiKey)
	}
	return h
}

// Refresh probes the search endpoint. A search-based source has no
// local table to rebuild, so a successful probe counts as an update.
func (s *openSanctions) Refresh(ctx context.Context, force bool) (bool, error) {
	params := url.Values{}
	params.Set("q", "test")
	params.Set("limit", "1")
	params.Set("datasets", "pep")

	if _, err := s.fetch.Get(ctx, s.searchURL(params), s.header()); err != nil {
		return false, fmt.Errorf("opensanctions connectivity check failed: %w", err)
	}

	now := time.Now()
	s.verifiedAt.Store(&now)
	s.log.Infow("OpenSanctions API connectivity verified")
	return true, nil
}

func (s *openSanctions) searchURL(params url.Values) string {
	return s.baseURL + "/search/default?" + params.Encode()
}

type openSanctionsResponse struct {
	Results []openSanctionsResult `json:"results"`
}

type openSanctionsResult struct {
	ID         string                `json:"id"`
	Schema     string                `json:"schema"`
	Properties openSanctionsProperty `json:"properties"`
}

type openSanctionsProperty struct {
	Name        []string `json:"name"`
	Alias       []string `json:"alias"`
	Country     []string `json:"country"`
	Position    []string `json:"position"`
	BirthDate   []string `json:"birthDate"`
	Nationality []string `json:"nationality"`
}

func (s *openSanctions) Search(ctx context.Context, query string, threshold int) ([]screening.Match, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("schema", "Person")
	params.Set("topics", "role.pep")
	params.Set("limit", "50")

	body, err := s.fetch.Get(ctx, s.searchURL(params), s.header())
	if err != nil {
		return nil, fmt.Errorf("opensanctions search failed: %w", err)
	}

	var resp openSanctionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse opensanctions response: %w", err)
	}

	seen := make(map[string]bool)
	var matches []screening.Match
	for _, result := range resp.Results {
		if result.ID == "" || seen[result.ID] {
			continue
		}
		seen[result.ID] = true

		if len(result.Properties.Name) == 0 {
			continue
		}
		primary := result.Properties.Name[0]
		matched, score := matching.BestMatch(query, primary, result.Properties.Alias)
		if score < threshold {
			continue
		}

		matchType := screening.MatchTypeFuzzy
		if score == 100 {
			matchType = screening.MatchTypeExact
		}
		entity := &screening.WatchlistEntity{
			SourceID:      s.Code(),
			EntityID:      result.ID,
			PrimaryName:   primary,
			Aliases:       result.Properties.Alias,
			EntityType:    screening.EntityTypeIndividual,
			Programs:      result.Properties.Position,
			BirthDates:    result.Properties.BirthDate,
			Nationalities: result.Properties.Nationality,
		}
		matches = append(matches, screening.Match{
			Source:      s.Code(),
			EntityID:    result.ID,
			MatchedName: matched,
			Confidence:  score,
			EntityType:  screening.EntityTypeIndividual,
			Programs:    result.Properties.Position,
			MatchType:   matchType,
			Entity:      entity,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	s.log.Infow("OpenSanctions search completed",
		"query", query,
		"matches", len(matches))
	return matches, nil
}

func (s *openSanctions) Statistics() screening.SourceStatistics {
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
