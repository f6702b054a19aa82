package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "triarb_notifications_total",
	Help: "Trade notifications by sink and outcome",
}, []string{"sink", "result"})
