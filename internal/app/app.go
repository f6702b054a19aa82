package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/autotrader"
	"github.com/mselser95/triarb/internal/circuitbreaker"
	"github.com/mselser95/triarb/internal/discovery"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/mselser95/triarb/internal/market"
	"github.com/mselser95/triarb/internal/notify"
	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/storage"
	"github.com/mselser95/triarb/internal/tickerbook"
	"github.com/mselser95/triarb/pkg/config"
	"github.com/mselser95/triarb/pkg/healthprobe"
	"github.com/mselser95/triarb/pkg/httpserver"
	"github.com/mselser95/triarb/pkg/websocket"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	market        *marketStack
	discovery     *discovery.Service // nil when DISCOVERY_POLL_INTERVAL is 0
	oppCache      *arbitrage.Cache
	riskManager   *risk.Manager
	executor      *execution.Executor
	breaker       *circuitbreaker.BalanceCircuitBreaker // nil unless live with the breaker enabled
	autoTrader    *autotrader.Trader
	storage       storage.Storage
	redisSink     *notify.RedisSink // nil when Redis notifications are off
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// marketStack is the market data path for the configured exchange.
type marketStack struct {
	source    *market.CachedSource
	wsManager *websocket.Manager // stream mode only
	book      *tickerbook.Book   // stream mode only
}

// New creates a new application instance. Nothing is started until Run.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: setupHealthChecker(),
		ctx:           ctx,
		cancel:        cancel,
	}

	err := a.setup(ctx)
	if err != nil {
		a.closePartial()
		cancel()
		return nil, err
	}

	return a, nil
}

func (a *App) setup(ctx context.Context) error {
	md, err := setupMarketData(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup market data: %w", err)
	}
	a.market = md.stack

	a.discovery, err = setupDiscovery(a.cfg, a.logger, md)
	if err != nil {
		return fmt.Errorf("setup discovery: %w", err)
	}

	a.storage, err = NewStorage(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	a.oppCache = setupOpportunityCache(a.cfg, a.logger, md.source, a.storage)

	a.riskManager, err = setupRiskManager(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup risk manager: %w", err)
	}

	notifier, redisSink, err := setupNotifier(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup notifier: %w", err)
	}
	a.redisSink = redisSink

	a.breaker, err = setupCircuitBreaker(a.cfg, a.logger, md.balance, a.riskManager)
	if err != nil {
		return fmt.Errorf("setup circuit breaker: %w", err)
	}

	a.executor, err = setupExecutor(a.cfg, a.logger, a.riskManager, a.storage, notifier, a.breaker, md)
	if err != nil {
		return fmt.Errorf("setup executor: %w", err)
	}

	a.autoTrader, err = setupAutoTrader(a.cfg, a.logger, a.oppCache, a.riskManager, a.executor)
	if err != nil {
		return fmt.Errorf("setup auto-trader: %w", err)
	}

	a.httpServer = setupHTTPServer(ctx, a)
	a.registerReadinessChecks()

	return nil
}

// closePartial releases whatever setup managed to open before failing.
func (a *App) closePartial() {
	if a.market != nil {
		a.market.source.Close()
	}
	if a.storage != nil {
		_ = a.storage.Close()
	}
	if a.redisSink != nil {
		_ = a.redisSink.Close()
	}
}
