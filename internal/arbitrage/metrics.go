package arbitrage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// OpportunitiesDetectedTotal tracks cycles that passed every filter.
	OpportunitiesDetectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_opportunities_detected_total",
		Help: "Total number of triangular opportunities detected",
	}, []string{"exchange"})

	// OpportunitiesRejectedTotal tracks rejected cycles by reason.
	OpportunitiesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_opportunities_rejected_total",
		Help: "Total number of candidate cycles rejected",
	}, []string{"reason"})

	// OpportunityProfitPercent tracks profit of detected cycles.
	OpportunityProfitPercent = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_opportunity_profit_percent",
		Help:    "Profit percent of detected cycles",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// ScanDurationSeconds tracks full graph scans.
	ScanDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triarb_scan_duration_seconds",
		Help:    "Duration of a full triangular scan including graph load",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange"})

	// CacheEntries tracks the number of cached opportunities per exchange.
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triarb_opportunity_cache_entries",
		Help: "Opportunities currently cached per exchange",
	}, []string{"exchange"})

	// CacheRefreshesTotal tracks cache refreshes by outcome.
	CacheRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_opportunity_cache_refreshes_total",
		Help: "Opportunity cache refreshes by result",
	}, []string{"exchange", "result"})

	// CacheEvictionsTotal tracks entries dropped by age or capacity.
	CacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_opportunity_cache_evictions_total",
		Help: "Opportunities evicted from the cache",
	}, []string{"exchange", "reason"})
)
