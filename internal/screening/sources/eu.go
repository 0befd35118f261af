package sources

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/screening"
)

// DefaultEUURL is the EU consolidated financial sanctions list, JSON
// export.
const DefaultEUURL = "https://webgate.ec.europa.eu/fsd/fsf/public/files/jsonFullSanctionsList/content?token=dG9rZW4tMjAxNw"

// euList mirrors the EU consolidated list JSON export.
type euList struct {
	Export struct {
		SanctionEntity []euSanctionEntity `json:"sanctionEntity"`
	} `json:"export"`
}

type euSanctionEntity struct {
	LogicalID   int64         `json:"logicalId"`
	UnitType    string        `json:"unitType"`
	NameAliases []euNameAlias `json:"nameAlias"`
	BirthDates  []euBirthDate `json:"birthDate"`
	Citizenship []euCitizen   `json:"citizenship"`
	Addresses   []euAddress   `json:"address"`
	Regulation  euRegulation  `json:"regulation"`
	Remark      string        `json:"remark"`
}

type euNameAlias struct {
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	LastName   string `json:"lastName"`
	WholeName  string `json:"wholeName"`
}

type euBirthDate struct {
	Date string `json:"date"`
	Year int    `json:"year"`
}

type euCitizen struct {
	Country string `json:"countryDescription"`
}

type euAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	ZipCode string `json:"zipCode"`
	Country string `json:"countryDescription"`
}

type euRegulation struct {
	Programme      string `json:"programme"`
	RegulationType string `json:"regulationType"`
}

// NewEU builds the adapter for the EU consolidated sanctions list.
func NewEU(url string, ttl time.Duration, fetch *Fetcher, log *zap.SugaredLogger) screening.Source {
	if url == "" {
		url = DefaultEUURL
	}
	s := &listSource{
		code:  "eu_sanctions",
		name:  "EU Consolidated",
		kind:  screening.SourceTypeSanctions,
		url:   url,
		ttl:   ttl,
		fetch: fetch,
		log:   log,
	}
	s.parse = func(data []byte) ([]screening.WatchlistEntity, error) {
		return parseEU(data, s.code, log)
	}
	return s
}

func parseEU(data []byte, sourceID string, log *zap.SugaredLogger) ([]screening.WatchlistEntity, error) {
	var list euList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse EU JSON: %w", err)
	}

	entities := make([]screening.WatchlistEntity, 0, len(list.Export.SanctionEntity))
	for _, ent := range list.Export.SanctionEntity {
		if ent.LogicalID == 0 {
			continue
		}

		// First listed alias carries the primary name, the rest are
		// aliases.
		var primary string
		var aliases []string
		for _, alias := range ent.NameAliases {
			name := strings.TrimSpace(alias.WholeName)
			if name == "" {
				name = joinNameParts(alias.FirstName, alias.MiddleName, alias.LastName)
			}
			if name == "" {
				continue
			}
			if primary == "" {
				primary = name
			} else {
				aliases = append(aliases, name)
			}
		}
		if primary == "" {
			log.Warnw("Skipping EU entity without a name", "logical_id", ent.LogicalID)
			continue
		}

		var birthDates []string
		for _, dob := range ent.BirthDates {
			if d := strings.TrimSpace(dob.Date); d != "" {
				birthDates = append(birthDates, d)
			} else if dob.Year != 0 {
				birthDates = append(birthDates, fmt.Sprintf("%d", dob.Year))
			}
		}

		var nationalities []string
		for _, cit := range ent.Citizenship {
			if c := strings.TrimSpace(cit.Country); c != "" {
				nationalities = append(nationalities, c)
			}
		}

		var addresses []screening.Address
		for _, addr := range ent.Addresses {
			a := screening.Address{
				Street:     strings.TrimSpace(addr.Street),
				City:       strings.TrimSpace(addr.City),
				PostalCode: strings.TrimSpace(addr.ZipCode),
				Country:    strings.TrimSpace(addr.Country),
			}
			if a != (screening.Address{}) {
				addresses = append(addresses, a)
			}
		}

		var programs []string
		if p := strings.TrimSpace(ent.Regulation.Programme); p != "" {
			programs = append(programs, p)
		}

		entities = append(entities, screening.WatchlistEntity{
			SourceID:      sourceID,
			EntityID:      fmt.Sprintf("eu_%d", ent.LogicalID),
			PrimaryName:   primary,
			Aliases:       aliases,
			EntityType:    euEntityType(ent.UnitType),
			Programs:      programs,
			Addresses:     addresses,
			BirthDates:    birthDates,
			Nationalities: nationalities,
			Remarks:       strings.TrimSpace(ent.Remark),
		})
	}

	return entities, nil
}

func euEntityType(unitType string) screening.EntityType {
	switch strings.ToLower(strings.TrimSpace(unitType)) {
	case "person", "individual":
		return screening.EntityTypeIndividual
	default:
		return screening.EntityTypeEntity
	}
}
