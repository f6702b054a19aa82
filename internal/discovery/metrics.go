package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// PairsTracked is the size of the last polled listing.
	PairsTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triarb_discovery_pairs_tracked",
		Help: "Number of tradable pairs in the last listing",
	}, []string{"exchange"})

	// PairsListedTotal tracks newly listed pairs.
	PairsListedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_discovery_pairs_listed_total",
		Help: "Total number of pairs that appeared between polls",
	}, []string{"exchange"})

	// PairsDelistedTotal tracks pairs that disappeared.
	PairsDelistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_discovery_pairs_delisted_total",
		Help: "Total number of pairs that disappeared between polls",
	}, []string{"exchange"})

	// PollDurationSeconds tracks listing poll latency.
	PollDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triarb_discovery_poll_duration_seconds",
		Help:    "Duration of pair listing polls",
		Buckets: prometheus.DefBuckets,
	}, []string{"exchange"})

	// PollErrorsTotal tracks listing poll failures.
	PollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_discovery_poll_errors_total",
		Help: "Total number of pair listing poll failures",
	}, []string{"exchange"})
)
