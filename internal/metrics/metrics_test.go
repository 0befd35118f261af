package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCacheLabelsTierAndResult(t *testing.T) {
	localHits := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("local", "hit"))
	localMisses := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("local", "miss"))
	redisHits := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("redis", "hit"))

	ObserveCache("local", true)
	ObserveCache("local", false)
	ObserveCache("redis", true)

	assert.Equal(t, localHits+1, testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("local", "hit")))
	assert.Equal(t, localMisses+1, testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("local", "miss")))
	assert.Equal(t, redisHits+1, testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("redis", "hit")))
}

func TestObserveSearchCountsMatches(t *testing.T) {
	before := testutil.ToFloat64(matchesTotal.WithLabelValues("ofac_sdn"))
	errored := testutil.ToFloat64(searchesTotal.WithLabelValues("ofac_sdn", "error"))

	ObserveSearch("ofac_sdn", true, 0, 3)
	ObserveSearch("ofac_sdn", false, 0, 0)

	assert.Equal(t, before+3, testutil.ToFloat64(matchesTotal.WithLabelValues("ofac_sdn")))
	assert.Equal(t, errored+1, testutil.ToFloat64(searchesTotal.WithLabelValues("ofac_sdn", "error")))
}
