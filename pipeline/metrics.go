package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpulse_cache_requests_total",
		Help: "Pipeline requests by kind and whether the cache was fresh",
	}, []string{"kind", "result"})

	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpulse_feed_fetch_errors_total",
		Help: "Failed feed fetches on the miss path",
	}, []string{"kind"})

	classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpulse_classifications_total",
		Help: "Classified items by outcome",
	}, []string{"result"})

	persistedItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpulse_persisted_items_total",
		Help: "Items written to the cache store",
	}, []string{"kind"})

	sharedMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subpulse_shared_misses_total",
		Help: "Cache misses served by a concurrent execution for the same channel",
	}, []string{"kind"})

	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subpulse_pipeline_duration_seconds",
		Help:    "Duration of pipeline requests",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
	}, []string{"kind", "path"})
)
