package screening_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ceres-kyc/screening/internal/screening"
)

// stubSource is a scriptable Source for registry tests.
type stubSource struct {
	code       string
	kind       screening.SourceType
	matches    []screening.Match
	searchErr  error
	refreshErr error
	refreshed  int
	searched   int
}

func (s *stubSource) Code() string               { return s.code }
func (s *stubSource) Name() string               { return s.code }
func (s *stubSource) Type() screening.SourceType { return s.kind }

func (s *stubSource) Refresh(ctx context.Context, force bool) (bool, error) {
	s.refreshed++
	if s.refreshErr != nil {
		return false, s.refreshErr
	}
	return true, nil
}

func (s *stubSource) Search(ctx context.Context, query string, threshold int) ([]screening.Match, error) {
	s.searched++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.matches, nil
}

func (s *stubSource) Statistics() screening.SourceStatistics {
	return screening.SourceStatistics{Code: s.code, TotalEntities: len(s.matches)}
}

func newTestManager() *screening.Manager {
	return screening.NewManager(5*time.Second, zap.NewNop().Sugar())
}

func TestSearchAllIsolatesFailingSource(t *testing.T) {
	healthy := &stubSource{
		code: "ofac_sdn",
		kind: screening.SourceTypeSanctions,
		matches: []screening.Match{{
			Source: "ofac_sdn", EntityID: "1", MatchedName: "Vladimir Putin", Confidence: 100,
		}},
	}
	broken := &stubSource{
		code:      "un_consolidated",
		kind:      screening.SourceTypeSanctions,
		searchErr: errors.New("list endpoint unreachable"),
	}

	m := newTestManager()
	m.Register(healthy, 0)
	m.Register(broken, 0)

	results := m.SearchAll(context.Background(), "Vladimir Putin", 80)
	require.Len(t, results, 2)

	ok := results["ofac_sdn"]
	assert.True(t, ok.Success)
	assert.Len(t, ok.Matches, 1)
	assert.GreaterOrEqual(t, ok.ProcessingTime, time.Duration(0))

	bad := results["un_consolidated"]
	assert.False(t, bad.Success)
	assert.Empty(t, bad.Matches)
	assert.Equal(t, "list endpoint unreachable", bad.ErrorMessage())
}

func TestSearchAllFiltersBySourceType(t *testing.T) {
	sanctions := &stubSource{code: "ofac_sdn", kind: screening.SourceTypeSanctions}
	pep := &stubSource{code: "opensanctions_pep", kind: screening.SourceTypePEP}

	m := newTestManager()
	m.Register(sanctions, 0)
	m.Register(pep, 0)

	results := m.SearchAll(context.Background(), "anyone", 80, screening.SourceTypePEP)
	require.Len(t, results, 1)
	_, only := results["opensanctions_pep"]
	assert.True(t, only)
	assert.Zero(t, sanctions.searched)
}

func TestSearchOneUnknownSource(t *testing.T) {
	m := newTestManager()
	result := m.SearchOne(context.Background(), "nope", "anyone", 80)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, screening.ErrUnknownSource)
}

func TestUpdateAllRecordsPerSourceOutcome(t *testing.T) {
	healthy := &stubSource{code: "ofac_sdn", kind: screening.SourceTypeSanctions}
	broken := &stubSource{
		code:       "eu_sanctions",
		kind:       screening.SourceTypeSanctions,
		refreshErr: errors.New("bad payload"),
	}

	m := newTestManager()
	m.Register(healthy, 0)
	m.Register(broken, 0)

	results := m.UpdateAll(context.Background(), true)
	require.Len(t, results, 2)
	assert.True(t, results["ofac_sdn"].Updated)
	require.Error(t, results["eu_sanctions"].Err)

	assert.True(t, m.IsActive("ofac_sdn"))
	assert.False(t, m.IsActive("eu_sanctions"))

	stats := m.Statistics()
	assert.Equal(t, 2, stats.TotalSources)
	assert.Equal(t, 1, stats.ActiveSources)
	assert.Equal(t, "error", stats.Status["eu_sanctions"].Status)
	assert.Equal(t, "bad payload", stats.Status["eu_sanctions"].LastError)
}

func TestSearchThrottleEnforcesMinInterval(t *testing.T) {
	src := &stubSource{code: "opencorporates", kind: screening.SourceTypeCorporate}

	m := newTestManager()
	m.Register(src, 40*time.Millisecond)

	start := time.Now()
	m.SearchOne(context.Background(), "opencorporates", "Sunrise Trading", 80)
	m.SearchOne(context.Background(), "opencorporates", "Sunrise Trading", 80)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Equal(t, 2, src.searched)
}

func TestCodesPreserveRegistrationOrder(t *testing.T) {
	m := newTestManager()
	m.Register(&stubSource{code: "ofac_sdn"}, 0)
	m.Register(&stubSource{code: "un_consolidated"}, 0)
	m.Register(&stubSource{code: "ofac_sdn"}, 0) // replace, not duplicate

	assert.Equal(t, []string{"ofac_sdn", "un_consolidated"}, m.Codes())
}
