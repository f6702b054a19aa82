package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/autotrader"
	"github.com/mselser95/triarb/internal/circuitbreaker"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/mselser95/triarb/internal/market"
	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/storage"
	"github.com/mselser95/triarb/pkg/healthprobe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OpportunityReader serves ranked opportunities per exchange.
type OpportunityReader interface {
	Opportunities(ctx context.Context, exchange string) []*arbitrage.Opportunity
	GetTop(ctx context.Context, exchange string) (*arbitrage.Opportunity, bool)
}

// PositionManager is the executor surface exposed over HTTP.
type PositionManager interface {
	Positions() []execution.Position
	Position(id string) (execution.Position, bool)
	Close(ctx context.Context, id string, reason string) *execution.CloseResult
	Settings() execution.Settings
	EnableTrading(enabled bool)
	SetDryRun(enabled bool)
	SetMaxPositionSize(size float64) error
	SetMaxConcurrent(n int) error
	SetStopLoss(percent float64) error
	SetTakeProfit(percent float64) error
	SetTradingMode(mode execution.TradingMode) error
}

// RiskReporter reports the risk budget.
type RiskReporter interface {
	Status() risk.Status
}

// AutoTraderControl is the auto-trader surface exposed over HTTP.
type AutoTraderControl interface {
	Config() autotrader.Config
	UpdateConfig(u autotrader.ConfigUpdate) (autotrader.Config, error)
	Running() bool
	Start(ctx context.Context)
	Stop()
}

// BreakerReporter reports circuit breaker state.
type BreakerReporter interface {
	GetStatus() circuitbreaker.Status
}

// PairReporter lists the exchange's tradable pairs as last discovered.
type PairReporter interface {
	Known() []market.Pair
}

// Server provides HTTP endpoints for metrics, health checks and the trading API.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	handler       http.Handler
}

// Config holds server configuration. Nil components leave their routes unregistered.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker

	// BaseContext outlives requests; the auto-trader is started under it.
	BaseContext context.Context
	Exchanges   []string
	UserID      string

	Opportunities OpportunityReader
	Positions     PositionManager
	Risk          RiskReporter
	AutoTrader    AutoTraderControl
	Breaker       BreakerReporter
	Trades        storage.TradeReader
	Pairs         PairReporter
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	h := newAPIHandler(cfg)
	r.Route("/api", func(r chi.Router) {
		if cfg.Opportunities != nil {
			r.Get("/opportunities/{exchange}", h.listOpportunities)
			r.Get("/opportunities/{exchange}/top", h.topOpportunity)
		}
		if cfg.Positions != nil {
			r.Get("/positions", h.listPositions)
			r.Get("/positions/{id}", h.getPosition)
			r.Post("/positions/{id}/close", h.closePosition)
			r.Get("/settings", h.getSettings)
			r.Put("/settings", h.updateSettings)
		}
		if cfg.Risk != nil {
			r.Get("/risk", h.riskStatus)
		}
		if cfg.AutoTrader != nil {
			r.Get("/autotrader", h.autoTraderStatus)
			r.Put("/autotrader/config", h.updateAutoTraderConfig)
			r.Post("/autotrader/start", h.startAutoTrader)
			r.Post("/autotrader/stop", h.stopAutoTrader)
		}
		if cfg.Breaker != nil {
			r.Get("/circuit-breaker", h.breakerStatus)
		}
		if cfg.Pairs != nil {
			r.Get("/pairs", h.listPairs)
		}
		if cfg.Trades != nil {
			r.Get("/trades", h.listTrades)
			r.Get("/trades/stats", h.tradeStats)
		}
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
		handler:       r,
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
