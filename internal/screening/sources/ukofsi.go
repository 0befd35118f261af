package sources

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/screening"
)

// DefaultUKOFSIURL is the UK OFSI consolidated list CSV export.
const DefaultUKOFSIURL = "https://ofsistorage.blob.core.windows.net/publishlive/2022format/ConList.csv"

// NewUKOFSI builds the adapter for the UK Office of Financial
// Sanctions Implementation consolidated list. The CSV carries one row
// per name; rows sharing a Group ID describe the same designated
// person and are folded into a single entity.
func NewUKOFSI(url string, ttl time.Duration, fetch *Fetcher, log *zap.SugaredLogger) screening.Source {
	if url == "" {
		url = DefaultUKOFSIURL
	}
	s := &listSource{
		code:  "uk_ofsi",
		name:  "UK OFSI",
		kind:  screening.SourceTypeSanctions,
		url:   url,
		ttl:   ttl,
		fetch: fetch,
		log:   log,
	}
	s.parse = func(data []byte) ([]screening.WatchlistEntity, error) {
		return parseUKOFSI(data, s.code, log)
	}
	return s
}

func parseUKOFSI(data []byte, sourceID string, log *zap.SugaredLogger) ([]screening.WatchlistEntity, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFSI CSV: %w", err)
	}

	// The published file carries preamble lines before the header row.
	headerIdx := -1
	var cols map[string]int
	for i, row := range records {
		if c := ofsiColumns(row); c != nil {
			headerIdx = i
			cols = c
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("OFSI CSV header row not found")
	}

	byGroup := make(map[string]*screening.WatchlistEntity)
	var order []string

	for _, row := range records[headerIdx+1:] {
		groupID := ofsiField(row, cols, "Group ID")
		if groupID == "" {
			continue
		}

		name := joinNameParts(
			ofsiField(row, cols, "Name 1"),
			ofsiField(row, cols, "Name 2"),
			ofsiField(row, cols, "Name 3"),
			ofsiField(row, cols, "Name 4"),
			ofsiField(row, cols, "Name 5"),
			ofsiField(row, cols, "Name 6"),
		)
		if name == "" {
			log.Warnw("Skipping OFSI row without a name", "group_id", groupID)
			continue
		}

		entity, ok := byGroup[groupID]
		if !ok {
			entity = &screening.WatchlistEntity{
				SourceID:   sourceID,
				EntityID:   groupID,
				EntityType: ofsiEntityType(ofsiField(row, cols, "Group Type")),
			}
			if regime := ofsiField(row, cols, "Regime"); regime != "" {
				entity.Programs = []string{regime}
			}
			byGroup[groupID] = entity
			order = append(order, groupID)
		}

		if dob := ofsiField(row, cols, "DOB"); dob != "" && !contains(entity.BirthDates, dob) {
			entity.BirthDates = append(entity.BirthDates, dob)
		}
		if nat := ofsiField(row, cols, "Nationality"); nat != "" && !contains(entity.Nationalities, nat) {
			entity.Nationalities = append(entity.Nationalities, nat)
		}

		aliasType := strings.ToLower(ofsiField(row, cols, "Alias Type"))
		if aliasType == "" || strings.Contains(aliasType, "primary") {
			if entity.PrimaryName == "" {
				entity.PrimaryName = name
				continue
			}
		}
		if !contains(entity.Aliases, name) {
			entity.Aliases = append(entity.Aliases, name)
		}
	}

	entities := make([]screening.WatchlistEntity, 0, len(order))
	for _, groupID := range order {
		entity := byGroup[groupID]
		// Groups whose primary-name row was malformed still screen
		// under their first alias.
		if entity.PrimaryName == "" {
			if len(entity.Aliases) == 0 {
				continue
			}
			entity.PrimaryName = entity.Aliases[0]
			entity.Aliases = entity.Aliases[1:]
		}
		entities = append(entities, *entity)
	}

	return entities, nil
}

// ofsiColumns maps header names to indices, or nil if the row is not
// the header.
func ofsiColumns(row []string) map[string]int {
	cols := make(map[string]int, len(row))
	for i, name := range row {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols["Group ID"]; !ok {
		return nil
	}
	if _, ok := cols["Name 6"]; !ok {
		return nil
	}
	return cols
}

func ofsiField(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func ofsiEntityType(groupType string) screening.EntityType {
	switch strings.ToLower(strings.TrimSpace(groupType)) {
	case "individual":
		return screening.EntityTypeIndividual
	case "ship", "vessel":
		return screening.EntityTypeVessel
	default:
		return screening.EntityTypeEntity
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
