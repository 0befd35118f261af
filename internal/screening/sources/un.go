package sources

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/screening"
)

// DefaultUNURL is the UN Security Council consolidated list.
const DefaultUNURL = "https://scsanctions.un.org/resources/xml/en/consolidated.xml"

// unList mirrors the UN consolidated list XML export.
type unList struct {
	XMLName     xml.Name       `xml:"CONSOLIDATED_LIST"`
	Individuals []unIndividual `xml:"INDIVIDUALS>INDIVIDUAL"`
	Entities    []unEntity     `xml:"ENTITIES>ENTITY"`
}

type unIndividual struct {
	DataID        string          `xml:"DATAID"`
	FirstName     string          `xml:"FIRST_NAME"`
	SecondName    string          `xml:"SECOND_NAME"`
	ThirdName     string          `xml:"THIRD_NAME"`
	FourthName    string          `xml:"FOURTH_NAME"`
	UNListType    string          `xml:"UN_LIST_TYPE"`
	Reference     string          `xml:"REFERENCE_NUMBER"`
	ListedOn      string          `xml:"LISTED_ON"`
	Comments      string          `xml:"COMMENTS1"`
	Aliases       []unAlias       `xml:"INDIVIDUAL_ALIAS"`
	Addresses     []unAddress     `xml:"INDIVIDUAL_ADDRESS"`
	Documents     []unDocument    `xml:"INDIVIDUAL_DOCUMENT"`
	Nationalities []unNationality `xml:"NATIONALITY"`
	BirthDates    []unDateOfBirth `xml:"INDIVIDUAL_DATE_OF_BIRTH"`
}

type unEntity struct {
	DataID     string      `xml:"DATAID"`
	FirstName  string      `xml:"FIRST_NAME"`
	UNListType string      `xml:"UN_LIST_TYPE"`
	Reference  string      `xml:"REFERENCE_NUMBER"`
	ListedOn   string      `xml:"LISTED_ON"`
	Comments   string      `xml:"COMMENTS1"`
	Aliases    []unAlias   `xml:"ENTITY_ALIAS"`
	Addresses  []unAddress `xml:"ENTITY_ADDRESS"`
}

type unAlias struct {
	Quality string `xml:"QUALITY"`
	Name    string `xml:"ALIAS_NAME"`
}

type unAddress struct {
	Street  string `xml:"STREET"`
	City    string `xml:"CITY"`
	State   string `xml:"STATE_PROVINCE"`
	ZipCode string `xml:"ZIP_CODE"`
	Country string `xml:"COUNTRY"`
}

type unDocument struct {
	Type           string `xml:"TYPE_OF_DOCUMENT"`
	Number         string `xml:"NUMBER"`
	IssuingCountry string `xml:"ISSUING_COUNTRY"`
}

type unNationality struct {
	Value string `xml:"VALUE"`
}

type unDateOfBirth struct {
	Date string `xml:"DATE"`
	Year string `xml:"YEAR"`
}

// NewUN builds the adapter for the UN Security Council consolidated
// sanctions list.
func NewUN(url string, ttl time.Duration, fetch *Fetcher, log *zap.SugaredLogger) screening.Source {
	if url == "" {
		url = DefaultUNURL
	}
	s := &listSource{
		code:  "un_consolidated",
		name:  "UN Consolidated",
		kind:  screening.SourceTypeSanctions,
		url:   url,
		ttl:   ttl,
		fetch: fetch,
		log:   log,
	}
	s.parse = func(data []byte) ([]screening.WatchlistEntity, error) {
		return parseUN(data, s.code, log)
	}
	return s
}

func parseUN(data []byte, sourceID string, log *zap.SugaredLogger) ([]screening.WatchlistEntity, error) {
	var list unList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse UN XML: %w", err)
	}

	entities := make([]screening.WatchlistEntity, 0, len(list.Individuals)+len(list.Entities))

	for _, ind := range list.Individuals {
		if ind.DataID == "" {
			continue
		}
		name := joinNameParts(ind.FirstName, ind.SecondName, ind.ThirdName, ind.FourthName)
		if name == "" {
			log.Warnw("Skipping UN individual without a name", "dataid", ind.DataID)
			continue
		}

		var birthDates []string
		for _, dob := range ind.BirthDates {
			if d := strings.TrimSpace(dob.Date); d != "" {
				birthDates = append(birthDates, d)
			} else if y := strings.TrimSpace(dob.Year); y != "" {
				birthDates = append(birthDates, y)
			}
		}

		var nationalities []string
		for _, nat := range ind.Nationalities {
			if v := strings.TrimSpace(nat.Value); v != "" {
				nationalities = append(nationalities, v)
			}
		}

		var identifiers []screening.Identifier
		for _, doc := range ind.Documents {
			if strings.TrimSpace(doc.Number) == "" {
				continue
			}
			identifiers = append(identifiers, screening.Identifier{
				Type:    strings.TrimSpace(doc.Type),
				Number:  strings.TrimSpace(doc.Number),
				Country: strings.TrimSpace(doc.IssuingCountry),
			})
		}

		entities = append(entities, screening.WatchlistEntity{
			SourceID:      sourceID,
			EntityID:      ind.DataID,
			PrimaryName:   name,
			Aliases:       unAliasNames(ind.Aliases),
			EntityType:    screening.EntityTypeIndividual,
			Programs:      unPrograms(ind.UNListType),
			Addresses:     unAddresses(ind.Addresses),
			Identifiers:   identifiers,
			BirthDates:    birthDates,
			Nationalities: nationalities,
			Remarks:       strings.TrimSpace(ind.Comments),
		})
	}

	for _, ent := range list.Entities {
		if ent.DataID == "" {
			continue
		}
		name := strings.TrimSpace(ent.FirstName)
		if name == "" {
			log.Warnw("Skipping UN entity without a name", "dataid", ent.DataID)
			continue
		}
		entities = append(entities, screening.WatchlistEntity{
			SourceID:    sourceID,
			EntityID:    ent.DataID,
			PrimaryName: name,
			Aliases:     unAliasNames(ent.Aliases),
			EntityType:  screening.EntityTypeEntity,
			Programs:    unPrograms(ent.UNListType),
			Addresses:   unAddresses(ent.Addresses),
			Remarks:     strings.TrimSpace(ent.Comments),
		})
	}

	return entities, nil
}

func joinNameParts(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func unAliasNames(aliases []unAlias) []string {
	var out []string
	for _, a := range aliases {
		if name := strings.TrimSpace(a.Name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func unPrograms(listType string) []string {
	if listType = strings.TrimSpace(listType); listType != "" {
		return []string{listType}
	}
	return nil
}

func unAddresses(addrs []unAddress) []screening.Address {
	var out []screening.Address
	for _, addr := range addrs {
		a := screening.Address{
			Street:     strings.TrimSpace(addr.Street),
			City:       strings.TrimSpace(addr.City),
			State:      strings.TrimSpace(addr.State),
			PostalCode: strings.TrimSpace(addr.ZipCode),
			Country:    strings.TrimSpace(addr.Country),
		}
		if a != (screening.Address{}) {
			out = append(out, a)
		}
	}
	return out
}
