package market

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	GraphLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triarb_market_graph_load_duration_seconds",
		Help:    "Time taken to snapshot an exchange into a market graph",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange"})

	GraphEdges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triarb_market_graph_edges",
		Help: "Number of pairs in the latest market graph",
	}, []string{"exchange"})

	SourceCacheRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_market_source_refreshes_total",
		Help: "Upstream fetches made by the cached market source",
	}, []string{"exchange", "kind"})
)
