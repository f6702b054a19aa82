package autotrader

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// CyclesTotal counts trading cycles by outcome (completed, skipped, panicked).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_autotrader_cycles_total",
		Help: "Auto-trading cycles by outcome",
	}, []string{"result"})

	// CycleDurationSeconds tracks how long a completed cycle took.
	CycleDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_autotrader_cycle_duration_seconds",
		Help:    "Duration of auto-trading cycles",
		Buckets: prometheus.DefBuckets,
	})

	// CandidatesTotal counts opportunities seen by a cycle, by decision.
	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_autotrader_candidates_total",
		Help: "Opportunities evaluated by the auto-trader",
	}, []string{"exchange", "decision"})
)
