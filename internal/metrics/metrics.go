// Package metrics exposes Prometheus instrumentation for the
// screening pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "screening",
			Name:      "searches_total",
			Help:      "Total source searches by outcome",
		},
		[]string{"source", "status"},
	)

	searchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ceres",
			Subsystem: "screening",
			Name:      "search_duration_seconds",
			Help:      "Duration of per-source searches",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	matchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "screening",
			Name:      "matches_total",
			Help:      "Total watchlist matches by source",
		},
		[]string{"source"},
	)

	sourceRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "screening",
			Name:      "source_refresh_total",
			Help:      "Total source list refreshes by outcome",
		},
		[]string{"source", "status"},
	)

	sourceEntities = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ceres",
			Subsystem: "screening",
			Name:      "source_entities",
			Help:      "Entities currently loaded per source",
		},
		[]string{"source"},
	)

	cacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	alertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ceres",
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Alerts created by severity",
		},
		[]string{"severity"},
	)

	batchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ceres",
			Subsystem: "screening",
			Name:      "batches_active",
			Help:      "Bulk screening runs currently in progress",
		},
	)
)

// ObserveSearch records one per-source search outcome and latency.
func ObserveSearch(source string, success bool, elapsed time.Duration, matches int) {
	status := "success"
	if !success {
		status = "error"
	}
	searchesTotal.WithLabelValues(source, status).Inc()
	searchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if matches > 0 {
		matchesTotal.WithLabelValues(source).Add(float64(matches))
	}
}

// ObserveRefresh records one source refresh attempt.
func ObserveRefresh(source string, err error, entities int64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	sourceRefreshTotal.WithLabelValues(source, status).Inc()
	if err == nil && entities > 0 {
		sourceEntities.WithLabelValues(source).Set(float64(entities))
	}
}

// ObserveCache records a cache lookup against a tier.
func ObserveCache(tier string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	cacheRequestsTotal.WithLabelValues(tier, result).Inc()
}

// ObserveAlert records a created alert.
func ObserveAlert(severity string) {
	alertsCreatedTotal.WithLabelValues(severity).Inc()
}

// BatchStarted and BatchFinished track the active batch gauge.
func BatchStarted()  { batchesActive.Inc() }
func BatchFinished() { batchesActive.Dec() }
