package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	QueryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triarb_storage_query_duration_seconds",
		Help:    "Duration of storage writes",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op"})

	QueryErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_storage_query_errors_total",
		Help: "Failed storage writes",
	}, []string{"backend", "op"})
)

func observe(backend, op string, start time.Time, err error) {
	QueryDurationSeconds.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
	if err != nil {
		QueryErrorsTotal.WithLabelValues(backend, op).Inc()
	}
}
