package binance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	RequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triarb_binance_request_duration_seconds",
		Help:    "Binance REST request latency by endpoint",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	RequestErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_binance_request_errors_total",
		Help: "Failed Binance REST requests by endpoint",
	}, []string{"path"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_binance_orders_total",
		Help: "Market orders placed by side",
	}, []string{"side"})
)
