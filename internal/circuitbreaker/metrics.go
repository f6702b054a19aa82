package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// Enabled indicates whether the circuit breaker allows trade execution.
	Enabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_circuit_breaker_enabled",
		Help: "Whether circuit breaker allows trade execution (1=enabled, 0=disabled)",
	})

	// Balance tracks the last checked quote asset balance.
	Balance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_circuit_breaker_balance",
		Help: "Last checked free balance of the quote asset",
	})

	DisableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_circuit_breaker_disable_threshold",
		Help: "Balance below which execution is disabled",
	})

	EnableThreshold = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_circuit_breaker_enable_threshold",
		Help: "Balance at which execution is re-enabled",
	})

	AvgTradeSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_circuit_breaker_avg_trade_size",
		Help: "Rolling average of recent trade sizes",
	})

	StateChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_circuit_breaker_state_changes_total",
		Help: "Number of enabled/disabled transitions",
	})

	CheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_circuit_breaker_check_duration_seconds",
		Help:    "Time taken to fetch and evaluate the balance",
		Buckets: prometheus.DefBuckets,
	})
)
