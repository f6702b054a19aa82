package tickerbook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// UpdatesTotal tracks ticker events by outcome.
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triarb_tickerbook_updates_total",
			Help: "Total number of ticker events processed",
		},
		[]string{"result"},
	)

	// SymbolsTracked tracks the number of symbols held in memory.
	SymbolsTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_tickerbook_symbols_tracked",
		Help: "Number of symbols with a ticker in memory",
	})

	// UpdateProcessingDuration tracks the time to apply one ticker event.
	UpdateProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_tickerbook_update_processing_seconds",
		Help:    "Time to apply one ticker event",
		Buckets: prometheus.ExponentialBuckets(0.000001, 2, 16),
	})

	// StaleSymbolsSkipped tracks tickers left out of a snapshot for being too old.
	StaleSymbolsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_tickerbook_stale_symbols_skipped_total",
		Help: "Total number of tickers skipped for exceeding the max age",
	})
)
