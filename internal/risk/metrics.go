package risk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics
var (
	BalanceGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_risk_balance",
		Help: "Account balance used for risk budgeting",
	})

	ExposureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_risk_exposure",
		Help: "Summed amount at risk (size * stop-loss distance) of open positions",
	})

	CapGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triarb_risk_cap",
		Help: "Portfolio exposure cap (balance * risk fraction * cap multiplier)",
	})

	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triarb_risk_admissions_total",
		Help: "Position admission decisions",
	}, []string{"result"})
)
