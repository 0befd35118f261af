package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/screening"
)

const ofacFixture = `<?xml version="1.0" encoding="utf-8"?>
<sdnList>
  <sdnEntry>
    <uid>9001</uid>
    <firstName>Vladimir</firstName>
    <lastName>Putin</lastName>
    <sdnType>Individual</sdnType>
    <remarks>Head of state.</remarks>
    <programList><program>RUSSIA-EO14024</program></programList>
    <akaList>
      <aka><firstName>V.</firstName><lastName>Putin</lastName></aka>
    </akaList>
    <idList>
      <id><idType>Passport</idType><idNumber>000001</idNumber><idCountry>Russia</idCountry></id>
    </idList>
    <dateOfBirthList>
      <dateOfBirthItem><dateOfBirth>07 Oct 1952</dateOfBirth></dateOfBirthItem>
    </dateOfBirthList>
  </sdnEntry>
  <sdnEntry>
    <uid>9002</uid>
    <title>Shadow Trade Holdings</title>
    <sdnType>Entity</sdnType>
    <programList><program>SDGT</program></programList>
  </sdnEntry>
  <sdnEntry>
    <firstName>No</firstName><lastName>UID</lastName>
  </sdnEntry>
</sdnList>`

const unFixture = `<?xml version="1.0" encoding="utf-8"?>
<CONSOLIDATED_LIST>
  <INDIVIDUALS>
    <INDIVIDUAL>
      <DATAID>6908555</DATAID>
      <FIRST_NAME>ABDUL</FIRST_NAME>
      <SECOND_NAME>AZIZ</SECOND_NAME>
      <THIRD_NAME>ABBASIN</THIRD_NAME>
      <UN_LIST_TYPE>Taliban</UN_LIST_TYPE>
      <INDIVIDUAL_ALIAS><QUALITY>Good</QUALITY><ALIAS_NAME>Abdul Aziz Mahsud</ALIAS_NAME></INDIVIDUAL_ALIAS>
      <NATIONALITY><VALUE>Afghanistan</VALUE></NATIONALITY>
      <INDIVIDUAL_DATE_OF_BIRTH><YEAR>1969</YEAR></INDIVIDUAL_DATE_OF_BIRTH>
    </INDIVIDUAL>
  </INDIVIDUALS>
  <ENTITIES>
    <ENTITY>
      <DATAID>113448</DATAID>
      <FIRST_NAME>HARAKAT ANSAR IRAN</FIRST_NAME>
      <UN_LIST_TYPE>Al-Qaida</UN_LIST_TYPE>
      <ENTITY_ALIAS><ALIAS_NAME>Ansar Iran</ALIAS_NAME></ENTITY_ALIAS>
    </ENTITY>
  </ENTITIES>
</CONSOLIDATED_LIST>`

const euFixture = `{
  "export": {
    "sanctionEntity": [
      {
        "logicalId": 13,
        "unitType": "Person",
        "nameAlias": [
          {"wholeName": "Saddam Hussein Al-Tikriti"},
          {"wholeName": "Abu Ali"}
        ],
        "birthDate": [{"date": "1937-04-28"}],
        "citizenship": [{"countryDescription": "Iraq"}],
        "regulation": {"programme": "IRQ"}
      },
      {
        "logicalId": 77,
        "unitType": "Enterprise",
        "nameAlias": [{"wholeName": "Sunrise Trading LLC"}],
        "regulation": {"programme": "SYR"}
      }
    ]
  }
}`

const ofsiFixture = `UK OFSI Consolidated List
Last Updated,01/08/2026
Name 1,Name 2,Name 3,Name 4,Name 5,Name 6,Group Type,Alias Type,Regime,DOB,Nationality,Group ID
Viktor,,,,Bout,,Individual,Primary name,Russia,13/01/1967,Russia,7067
Viktor,,,,Butt,,Individual,AKA,Russia,,,7067
Sunrise,,,,Trading,,Entity,Primary name,Syria,,,8101`

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	return NewFetcher(5*time.Second, 1, 10*time.Millisecond, "test-agent", zap.NewNop().Sugar())
}

func listServer(t *testing.T, payload string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOFACRefreshAndSearch(t *testing.T) {
	srv := listServer(t, ofacFixture, nil)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	updated, err := src.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, updated)

	stats := src.Statistics()
	assert.Equal(t, 2, stats.TotalEntities, "entry without uid must be skipped")
	assert.Equal(t, 1, stats.EntityTypes["individual"])
	assert.Equal(t, 1, stats.EntityTypes["entity"])
	assert.Equal(t, 1, stats.Programs["RUSSIA-EO14024"])

	matches, err := src.Search(context.Background(), "Vladimir Putin", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "ofac_sdn", matches[0].Source)
	assert.Equal(t, "9001", matches[0].EntityID)
	assert.Equal(t, 100, matches[0].Confidence)
	assert.Equal(t, screening.MatchTypeExact, matches[0].MatchType)
	assert.Equal(t, screening.EntityTypeIndividual, matches[0].EntityType)
	require.NotNil(t, matches[0].Entity)
	assert.Equal(t, []string{"07 Oct 1952"}, matches[0].Entity.BirthDates)
}

func TestOFACSearchMatchesAlias(t *testing.T) {
	srv := listServer(t, ofacFixture, nil)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	matches, err := src.Search(context.Background(), "V. Putin", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "V. Putin", matches[0].MatchedName)
	assert.Equal(t, 100, matches[0].Confidence)
}

func TestOFACSearchBelowThreshold(t *testing.T) {
	srv := listServer(t, ofacFixture, nil)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	matches, err := src.Search(context.Background(), "Jane Doe", 80)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestOFACSearchCyrillicName(t *testing.T) {
	const fixture = `<?xml version="1.0" encoding="utf-8"?>
<sdnList>
  <sdnEntry>
    <uid>9100</uid>
    <firstName>Владимир</firstName>
    <lastName>Путин</lastName>
    <sdnType>Individual</sdnType>
  </sdnEntry>
</sdnList>`
	srv := listServer(t, fixture, nil)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	matches, err := src.Search(context.Background(), "Владимир Путин", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 100, matches[0].Confidence)
	assert.Equal(t, screening.MatchTypeExact, matches[0].MatchType)
}

func TestListSourceFreshnessShortCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := listServer(t, ofacFixture, &calls)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	updated, err := src.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = src.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, updated, "second refresh inside the window must be a no-op")
	assert.Equal(t, int32(1), calls.Load())

	updated, err = src.Refresh(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, updated, "forced refresh must ignore the window")
	assert.Equal(t, int32(2), calls.Load())
}

func TestListSourceImplicitRefreshOnFirstSearch(t *testing.T) {
	var calls atomic.Int32
	srv := listServer(t, ofacFixture, &calls)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	matches, err := src.Search(context.Background(), "Vladimir Putin", 80)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListSourceRefreshFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	src := NewOFAC(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	updated, err := src.Refresh(context.Background(), false)
	assert.Error(t, err)
	assert.False(t, updated)

	_, err = src.Search(context.Background(), "anyone", 80)
	assert.Error(t, err, "search with no loaded table must surface the refresh error")
}

func TestUNParse(t *testing.T) {
	srv := listServer(t, unFixture, nil)
	src := NewUN(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	_, err := src.Refresh(context.Background(), false)
	require.NoError(t, err)

	stats := src.Statistics()
	assert.Equal(t, 2, stats.TotalEntities)
	assert.Equal(t, 1, stats.Programs["Taliban"])

	matches, err := src.Search(context.Background(), "Abdul Aziz Abbasin", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "6908555", matches[0].EntityID)
	assert.Equal(t, []string{"Afghanistan"}, matches[0].Entity.Nationalities)
	assert.Equal(t, []string{"1969"}, matches[0].Entity.BirthDates)

	matches, err = src.Search(context.Background(), "Ansar Iran", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "113448", matches[0].EntityID)
	assert.Equal(t, "Ansar Iran", matches[0].MatchedName)
}

func TestEUParse(t *testing.T) {
	srv := listServer(t, euFixture, nil)
	src := NewEU(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	_, err := src.Refresh(context.Background(), false)
	require.NoError(t, err)

	stats := src.Statistics()
	assert.Equal(t, 2, stats.TotalEntities)

	matches, err := src.Search(context.Background(), "Saddam Hussein Al-Tikriti", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "eu_13", matches[0].EntityID)
	assert.Equal(t, screening.EntityTypeIndividual, matches[0].EntityType)
	assert.Equal(t, []string{"Abu Ali"}, matches[0].Entity.Aliases)
	assert.Equal(t, []string{"IRQ"}, matches[0].Programs)
}

func TestUKOFSIParseFoldsAliasRows(t *testing.T) {
	srv := listServer(t, ofsiFixture, nil)
	src := NewUKOFSI(srv.URL, time.Hour, newTestFetcher(t), zap.NewNop().Sugar())

	_, err := src.Refresh(context.Background(), false)
	require.NoError(t, err)

	stats := src.Statistics()
	assert.Equal(t, 2, stats.TotalEntities, "rows sharing a Group ID fold into one entity")

	matches, err := src.Search(context.Background(), "Viktor Bout", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "7067", matches[0].EntityID)
	assert.Equal(t, "Viktor Bout", matches[0].Entity.PrimaryName)
	assert.Equal(t, []string{"Viktor Butt"}, matches[0].Entity.Aliases)
	assert.Equal(t, []string{"Russia"}, matches[0].Programs)

	matches, err = src.Search(context.Background(), "Viktor Butt", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Viktor Butt", matches[0].MatchedName)
}

func TestOpenSanctionsSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"results": [
				{"id": "Q7747", "schema": "Person", "properties": {
					"name": ["Vladimir Putin"],
					"alias": ["Vladimir Vladimirovich Putin"],
					"position": ["President of Russia"],
					"nationality": ["ru"]
				}},
				{"id": "Q999", "schema": "Person", "properties": {"name": ["Someone Unrelated"]}}
			]
		}`))
	}))
	t.Cleanup(srv.Close)

	src := NewOpenSanctions(srv.URL, "secret", newTestFetcher(t), zap.NewNop().Sugar())
	matches, err := src.Search(context.Background(), "Vladimir Putin", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "opensanctions_pep", matches[0].Source)
	assert.Equal(t, "Q7747", matches[0].EntityID)
	assert.Equal(t, 100, matches[0].Confidence)
	assert.Equal(t, []string{"President of Russia"}, matches[0].Programs)
}

func TestOpenSanctionsRefreshProbe(t *testing.T) {
	var probed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed.Add(1)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"results": []}`))
	}))
	t.Cleanup(srv.Close)

	src := NewOpenSanctions(srv.URL, "", newTestFetcher(t), zap.NewNop().Sugar())
	assert.Equal(t, "disconnected", src.Statistics().APIStatus)

	updated, err := src.Refresh(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, int32(1), probed.Load())
	assert.Equal(t, "connected", src.Statistics().APIStatus)
}

func TestOpenCorporatesSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"results": {"companies": [
				{"company": {"name": "Sunrise Trading LLC", "company_number": "123456",
					"jurisdiction_code": "ae_du", "company_type": "LLC",
					"incorporation_date": "2015-03-02"}},
				{"company": {"name": "Moonset Logistics", "company_number": "654321",
					"jurisdiction_code": "gb"}}
			]}
		}`))
	}))
	t.Cleanup(srv.Close)

	src := NewOpenCorporates(srv.URL, "", newTestFetcher(t), zap.NewNop().Sugar())
	matches, err := src.Search(context.Background(), "Sunrise Trading LLC", 80)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "opencorporates", matches[0].Source)
	assert.Equal(t, "ae_du/123456", matches[0].EntityID)
	assert.Equal(t, screening.EntityTypeEntity, matches[0].EntityType)
}

func TestFetcherRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(5*time.Second, 3, time.Millisecond, "test-agent", zap.NewNop().Sugar())
	body, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), calls.Load())
}
