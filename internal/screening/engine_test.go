package screening_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ceres-kyc/screening/internal/alerts"
	"github.com/ceres-kyc/screening/internal/cache"
	"github.com/ceres-kyc/screening/internal/screening"
	"github.com/ceres-kyc/screening/internal/screening/store"
)

type stubDirectory struct {
	customers map[string]*screening.Customer
}

func (d *stubDirectory) Customer(_ context.Context, id string) (*screening.Customer, error) {
	c, ok := d.customers[id]
	if !ok {
		return nil, screening.ErrCustomerNotFound
	}
	return c, nil
}

type engineFixture struct {
	engine  *screening.Engine
	manager *screening.Manager
	store   *store.Store
	alerts  *alerts.Manager
	cache   *cache.Manager
}

func newEngineFixture(t *testing.T, sources ...screening.Source) *engineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)

	log := zap.NewNop().Sugar()
	manager := screening.NewManager(5*time.Second, log)
	for _, src := range sources {
		manager.Register(src, 0)
	}

	cacheMgr := cache.NewManager(nil, log)
	t.Cleanup(cacheMgr.Close)
	alertMgr := alerts.NewManager(store.NewAlertSink(st), log)

	directory := &stubDirectory{customers: map[string]*screening.Customer{
		"cust-putin": {ID: "cust-putin", FullName: "Vladimir Putin", EntityType: screening.EntityTypeIndividual},
		"cust-smith": {ID: "cust-smith", FullName: "John Smith", EntityType: screening.EntityTypeIndividual},
	}}

	eng := screening.NewEngine(manager, st, cacheMgr, alertMgr, directory, screening.EngineConfig{
		MatchThreshold:   80,
		AlertThreshold:   90,
		FreshnessWindow:  24 * time.Hour,
		MaxRetries:       1,
		RetryDelay:       time.Millisecond,
		BatchConcurrency: 4,
	}, log)

	return &engineFixture{engine: eng, manager: manager, store: st, alerts: alertMgr, cache: cacheMgr}
}

func putinSource() *stubSource {
	return &stubSource{
		code: "ofac_sdn",
		kind: screening.SourceTypeSanctions,
		matches: []screening.Match{{
			Source:      "ofac_sdn",
			EntityID:    "9001",
			MatchedName: "Vladimir Putin",
			Confidence:  100,
			EntityType:  screening.EntityTypeIndividual,
			Programs:    []string{"UKRAINE-EO13662"},
			MatchType:   screening.MatchTypeExact,
		}},
	}
}

func TestScreenPositiveMatchPersistsAndAlerts(t *testing.T) {
	fx := newEngineFixture(t, putinSource())
	ctx := context.Background()

	summary, err := fx.engine.Screen(ctx, "cust-putin", screening.ScreenOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ResultsCount)
	assert.Equal(t, 1, summary.MatchesFound)
	assert.Equal(t, 1, summary.HighRiskMatches)
	assert.Equal(t, screening.RiskLevelCritical, summary.RiskLevel)
	assert.False(t, summary.FromCache)

	matches, err := fx.store.MatchesForCustomer(ctx, "cust-putin", 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Vladimir Putin", matches[0].MatchedName)
	assert.Equal(t, 100, matches[0].ConfidenceScore)
	assert.Equal(t, "exact", matches[0].MatchType)

	active := fx.alerts.Active("")
	require.Len(t, active, 1)
	assert.Equal(t, alerts.SeverityCritical, active[0].Severity)
	assert.Equal(t, "cust-putin", active[0].CustomerID)

	persisted, err := fx.store.ActiveAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestScreenNegativeResultStillPersisted(t *testing.T) {
	clean := &stubSource{code: "ofac_sdn", kind: screening.SourceTypeSanctions}
	fx := newEngineFixture(t, clean)
	ctx := context.Background()

	summary, err := fx.engine.Screen(ctx, "cust-smith", screening.ScreenOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ResultsCount)
	assert.Zero(t, summary.MatchesFound)
	assert.Equal(t, screening.RiskLevelNone, summary.RiskLevel)

	rows, err := fx.store.ResultsForCustomer(ctx, "cust-smith")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].MatchFound)
	assert.Empty(t, rows[0].ErrorMessage)

	assert.Empty(t, fx.alerts.Active(""))
}

func TestScreenFailedSourceRecordedAsErrorRow(t *testing.T) {
	broken := &stubSource{
		code:      "un_consolidated",
		kind:      screening.SourceTypeSanctions,
		searchErr: errors.New("list endpoint unreachable"),
	}
	clean := &stubSource{code: "eu_sanctions", kind: screening.SourceTypeSanctions}
	fx := newEngineFixture(t, broken, clean)
	ctx := context.Background()

	summary, err := fx.engine.Screen(ctx, "cust-smith", screening.ScreenOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ResultsCount)
	assert.Zero(t, summary.MatchesFound)

	rows, err := fx.store.ResultsForCustomer(ctx, "cust-smith")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var errored *store.Result
	for i := range rows {
		if rows[i].SourceCode == "un_consolidated" {
			errored = &rows[i]
		}
		assert.False(t, rows[i].MatchFound)
	}
	require.NotNil(t, errored)
	assert.Equal(t, "list endpoint unreachable", errored.ErrorMessage)

	// the failed source was retried once before being recorded
	assert.Equal(t, 2, broken.searched)
}

func TestScreenAllSourcesFailedReturnsError(t *testing.T) {
	broken := &stubSource{
		code:      "un_consolidated",
		kind:      screening.SourceTypeSanctions,
		searchErr: errors.New("list endpoint unreachable"),
	}
	fx := newEngineFixture(t, broken)
	ctx := context.Background()

	summary, err := fx.engine.Screen(ctx, "cust-smith", screening.ScreenOptions{})
	require.ErrorIs(t, err, screening.ErrAllSourcesFailed)
	assert.Nil(t, summary)

	// the failure must not masquerade as a clean run, but the error
	// rows still land in the audit trail
	rows, err := fx.store.ResultsForCustomer(ctx, "cust-smith")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].MatchFound)
	assert.Equal(t, "list endpoint unreachable", rows[0].ErrorMessage)
}

func TestScreenFreshnessShortCircuit(t *testing.T) {
	src := putinSource()
	fx := newEngineFixture(t, src)
	ctx := context.Background()

	first, err := fx.engine.Screen(ctx, "cust-putin", screening.ScreenOptions{})
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.Equal(t, 1, src.searched)

	second, err := fx.engine.Screen(ctx, "cust-putin", screening.ScreenOptions{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.MatchesFound, second.MatchesFound)
	assert.Equal(t, 1, src.searched, "sources must not be hit inside the freshness window")

	// force refresh bypasses the window
	third, err := fx.engine.Screen(ctx, "cust-putin", screening.ScreenOptions{ForceRefresh: true})
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, 2, src.searched)
}

func TestScreenUnknownCustomer(t *testing.T) {
	fx := newEngineFixture(t, putinSource())
	_, err := fx.engine.Screen(context.Background(), "nobody", screening.ScreenOptions{})
	assert.ErrorIs(t, err, screening.ErrCustomerNotFound)
}

func TestScreenAlertSeverityFollowsConfidence(t *testing.T) {
	medium := &stubSource{
		code: "eu_sanctions",
		kind: screening.SourceTypeSanctions,
		matches: []screening.Match{{
			Source:      "eu_sanctions",
			EntityID:    "13",
			MatchedName: "Saddam Hussein",
			Confidence:  92,
			EntityType:  screening.EntityTypeIndividual,
			MatchType:   screening.MatchTypeFuzzy,
		}},
	}
	fx := newEngineFixture(t, medium)

	summary, err := fx.engine.Screen(context.Background(), "cust-smith", screening.ScreenOptions{})
	require.NoError(t, err)
	assert.Equal(t, screening.RiskLevelHigh, summary.RiskLevel)

	active := fx.alerts.Active("")
	require.Len(t, active, 1)
	assert.Equal(t, alerts.SeverityHigh, active[0].Severity)
}

func TestScreenBelowAlertThresholdCreatesNoAlert(t *testing.T) {
	weak := &stubSource{
		code: "uk_ofsi",
		kind: screening.SourceTypeSanctions,
		matches: []screening.Match{{
			Source:      "uk_ofsi",
			EntityID:    "7067",
			MatchedName: "Viktor Bout",
			Confidence:  85,
			MatchType:   screening.MatchTypeFuzzy,
		}},
	}
	fx := newEngineFixture(t, weak)

	summary, err := fx.engine.Screen(context.Background(), "cust-smith", screening.ScreenOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MatchesFound)
	assert.Zero(t, summary.HighRiskMatches)
	assert.Equal(t, screening.RiskLevelMedium, summary.RiskLevel)
	assert.Empty(t, fx.alerts.Active(""))
}

func TestBatchScreenProcessesAllCustomers(t *testing.T) {
	fx := newEngineFixture(t, putinSource())
	ctx := context.Background()

	batch, err := fx.engine.BatchScreen(ctx, "nightly rescreen",
		[]string{"cust-putin", "cust-smith", "cust-missing"}, screening.ScreenOptions{})
	require.NoError(t, err)

	assert.Equal(t, "completed", batch.Status)
	assert.Equal(t, 3, batch.TotalCustomers)
	assert.Equal(t, 3, batch.ProcessedCustomers)
	assert.Equal(t, 1, batch.MatchesFound)
	assert.NotNil(t, batch.CompletedAt)

	// the unknown customer failed without sinking the batch
	rows, err := fx.store.ResultsForCustomer(ctx, "cust-putin")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBatchNotFound(t *testing.T) {
	fx := newEngineFixture(t, putinSource())
	_, err := fx.engine.Batch(context.Background(), "no-such-batch")
	assert.ErrorIs(t, err, screening.ErrBatchNotFound)
}

func TestCustomerSummaryAggregates(t *testing.T) {
	fx := newEngineFixture(t, putinSource(), &stubSource{
		code: "un_consolidated",
		kind: screening.SourceTypeSanctions,
	})
	ctx := context.Background()

	_, err := fx.engine.Screen(ctx, "cust-putin", screening.ScreenOptions{})
	require.NoError(t, err)

	summary, err := fx.engine.CustomerSummary(ctx, "cust-putin")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalSourcesChecked)
	assert.Equal(t, 1, summary.MatchesFound)
	assert.Equal(t, 1, summary.HighRiskMatches)
	assert.Equal(t, 100, summary.OverallRiskScore)
	assert.Equal(t, screening.RiskLevelCritical, summary.RiskLevel)
	assert.Equal(t, int64(1), summary.AlertsCount)
	require.NotNil(t, summary.LastScreened)
}

func TestCustomerSummaryNoHistory(t *testing.T) {
	fx := newEngineFixture(t, putinSource())

	summary, err := fx.engine.CustomerSummary(context.Background(), "cust-smith")
	require.NoError(t, err)
	assert.Zero(t, summary.TotalSourcesChecked)
	assert.Zero(t, summary.OverallRiskScore)
	assert.Equal(t, screening.RiskLevelNone, summary.RiskLevel)
	assert.Nil(t, summary.LastScreened)
}
