package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	// Connection lifecycle.

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_ws_active_connections",
		Help: "1 while the market stream connection is up",
	})

	// ConnectionDuration buckets reach 24h, where Binance drops every stream connection.
	ConnectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_ws_connection_duration_seconds",
		Help:    "Lifetime of market stream connections before disconnect",
		Buckets: []float64{60, 300, 1800, 3600, 4 * 3600, 12 * 3600, 24 * 3600},
	})

	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_ws_reconnect_attempts_total",
		Help: "Redials scheduled after a dropped market stream",
	})

	ReconnectFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_ws_reconnect_failures_total",
		Help: "Redials that failed to connect",
	})

	// Subscriptions.

	SubscriptionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_ws_subscription_count",
		Help: "Streams currently subscribed on the connection",
	})

	UnsubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triarb_ws_unsubscriptions_total",
		Help: "Unsubscribe requests sent",
	})

	// Ticker events.

	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_ws_messages_received_total",
		Help: "Ticker events decoded from the stream",
	}, []string{"event_type"})

	MessagesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_ws_messages_dropped_total",
		Help: "Ticker events dropped before reaching the consumer",
	}, []string{"reason"})

	// TickerLagSeconds is receive time minus the exchange's event time; it includes clock skew.
	TickerLagSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triarb_ws_ticker_lag_seconds",
		Help:    "Delay between a ticker's exchange event time and its receipt",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)
