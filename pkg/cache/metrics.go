package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_cache_hits_total",
		Help: "Total number of cache hits",
	}, []string{"cache"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_cache_misses_total",
		Help: "Total number of cache misses",
	}, []string{"cache"})

	CacheSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_cache_sets_total",
		Help: "Total number of values admitted into the cache",
	}, []string{"cache"})

	CacheRejectedSetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_cache_rejected_sets_total",
		Help: "Total number of values rejected by the admission policy",
	}, []string{"cache"})

	CacheCostAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_cache_cost_added_total",
		Help: "Cost units admitted into the cache",
	}, []string{"cache"})
)
