package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// PositionsOpenedTotal tracks open attempts by mode and result.
	PositionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_execution_positions_opened_total",
		Help: "Position open attempts by mode and result",
	}, []string{"mode", "result"})

	// PositionsClosedTotal tracks closes by reason.
	PositionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_execution_positions_closed_total",
		Help: "Closed positions by reason",
	}, []string{"reason"})

	// OpenPositions tracks live positions per exchange.
	OpenPositions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triarb_execution_open_positions",
		Help: "Live positions per exchange",
	}, []string{"exchange"})

	// ProfitRealized tracks cumulative realized profit.
	ProfitRealized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_execution_profit_realized",
		Help: "Cumulative realized profit in the starting asset",
	}, []string{"exchange"})

	// ExecutionDurationSeconds tracks exchange call latency.
	ExecutionDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triarb_execution_duration_seconds",
		Help:    "Duration of exchange execution calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ExecutionErrorsTotal tracks exchange call failures.
	ExecutionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_execution_errors_total",
		Help: "Exchange call failures by operation",
	}, []string{"operation"})

	// MonitorSkipsTotal tracks positions whose evaluation was skipped.
	MonitorSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_execution_monitor_skips_total",
		Help: "Position evaluations skipped for missing prices",
	})
)
