package sources

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/screening"
)

// DefaultOFACURL is the published OFAC SDN list.
const DefaultOFACURL = "https://www.treasury.gov/ofac/downloads/sdn.xml"

// ofacList mirrors the OFAC SDN XML export.
type ofacList struct {
	XMLName xml.Name    `xml:"sdnList"`
	Entries []ofacEntry `xml:"sdnEntry"`
}

type ofacEntry struct {
	UID       string        `xml:"uid"`
	FirstName string        `xml:"firstName"`
	LastName  string        `xml:"lastName"`
	Title     string        `xml:"title"`
	SDNType   string        `xml:"sdnType"`
	Remarks   string        `xml:"remarks"`
	Programs  []string      `xml:"programList>program"`
	Akas      []ofacAka     `xml:"akaList>aka"`
	Addresses []ofacAddress `xml:"addressList>address"`
	IDs       []ofacID      `xml:"idList>id"`
	DOBs      []ofacDOB     `xml:"dateOfBirthList>dateOfBirthItem"`
}

type ofacAka struct {
	FirstName string `xml:"firstName"`
	LastName  string `xml:"lastName"`
	Title     string `xml:"title"`
}

type ofacAddress struct {
	Address1        string `xml:"address1"`
	City            string `xml:"city"`
	StateOrProvince string `xml:"stateOrProvince"`
	PostalCode      string `xml:"postalCode"`
	Country         string `xml:"country"`
}

type ofacID struct {
	IDType    string `xml:"idType"`
	IDNumber  string `xml:"idNumber"`
	IDCountry string `xml:"idCountry"`
}

type ofacDOB struct {
	DateOfBirth string `xml:"dateOfBirth"`
}

// NewOFAC builds the adapter for the OFAC Specially Designated
// Nationals list.
func NewOFAC(url string, ttl time.Duration, fetch *Fetcher, log *zap.SugaredLogger) screening.Source {
	if url == "" {
		url = DefaultOFACURL
	}
	s := &listSource{
		code:  "ofac_sdn",
		name:  "OFAC SDN",
		kind:  screening.SourceTypeSanctions,
		url:   url,
		ttl:   ttl,
		fetch: fetch,
		log:   log,
	}
	s.parse = func(data []byte) ([]screening.WatchlistEntity, error) {
		return parseOFAC(data, s.code, log)
	}
	return s
}

func parseOFAC(data []byte, sourceID string, log *zap.SugaredLogger) ([]screening.WatchlistEntity, error) {
	var list ofacList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse OFAC XML: %w", err)
	}

	entities := make([]screening.WatchlistEntity, 0, len(list.Entries))
	for _, entry := range list.Entries {
		if entry.UID == "" {
			continue
		}

		name := strings.TrimSpace(strings.TrimSpace(entry.FirstName) + " " + strings.TrimSpace(entry.LastName))
		if name == "" {
			name = strings.TrimSpace(entry.Title)
		}
		if name == "" {
			log.Warnw("Skipping OFAC entry without a name", "uid", entry.UID)
			continue
		}

		var aliases []string
		for _, aka := range entry.Akas {
			alias := strings.TrimSpace(strings.TrimSpace(aka.FirstName) + " " + strings.TrimSpace(aka.LastName))
			if alias == "" {
				alias = strings.TrimSpace(aka.Title)
			}
			if alias != "" {
				aliases = append(aliases, alias)
			}
		}

		var addresses []screening.Address
		for _, addr := range entry.Addresses {
			a := screening.Address{
				Street:     strings.TrimSpace(addr.Address1),
				City:       strings.TrimSpace(addr.City),
				State:      strings.TrimSpace(addr.StateOrProvince),
				PostalCode: strings.TrimSpace(addr.PostalCode),
				Country:    strings.TrimSpace(addr.Country),
			}
			if a != (screening.Address{}) {
				addresses = append(addresses, a)
			}
		}

		var identifiers []screening.Identifier
		for _, id := range entry.IDs {
			if strings.TrimSpace(id.IDNumber) == "" {
				continue
			}
			identifiers = append(identifiers, screening.Identifier{
				Type:    strings.TrimSpace(id.IDType),
				Number:  strings.TrimSpace(id.IDNumber),
				Country: strings.TrimSpace(id.IDCountry),
			})
		}

		var birthDates []string
		for _, dob := range entry.DOBs {
			if d := strings.TrimSpace(dob.DateOfBirth); d != "" {
				birthDates = append(birthDates, d)
			}
		}

		entities = append(entities, screening.WatchlistEntity{
			SourceID:    sourceID,
			EntityID:    entry.UID,
			PrimaryName: name,
			Aliases:     aliases,
			EntityType:  sdnEntityType(entry.SDNType),
			Programs:    entry.Programs,
			Addresses:   addresses,
			Identifiers: identifiers,
			BirthDates:  birthDates,
			Remarks:     strings.TrimSpace(entry.Remarks),
		})
	}

	return entities, nil
}

func sdnEntityType(sdnType string) screening.EntityType {
	switch strings.ToLower(strings.TrimSpace(sdnType)) {
	case "individual":
		return screening.EntityTypeIndividual
	case "vessel":
		return screening.EntityTypeVessel
	default:
		return screening.EntityTypeEntity
	}
}
