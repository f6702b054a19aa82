package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/autotrader"
	"github.com/mselser95/triarb/internal/circuitbreaker"
	"github.com/mselser95/triarb/internal/discovery"
	"github.com/mselser95/triarb/internal/exchange/binance"
	"github.com/mselser95/triarb/internal/execution"
	"github.com/mselser95/triarb/internal/market"
	"github.com/mselser95/triarb/internal/notify"
	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/storage"
	"github.com/mselser95/triarb/internal/tickerbook"
	"github.com/mselser95/triarb/pkg/cache"
	"github.com/mselser95/triarb/pkg/config"
	"github.com/mselser95/triarb/pkg/healthprobe"
	"github.com/mselser95/triarb/pkg/httpserver"
	"github.com/mselser95/triarb/pkg/websocket"
	"go.uber.org/zap"
)

// marketData is what the market setup hands to the rest of the wiring.
type marketData struct {
	stack   *marketStack
	client  *binance.Client
	source  *market.CachedSource          // shared by scanner and paper client
	trading execution.TradingClient       // per EXECUTION_MODE
	balance circuitbreaker.BalanceFetcher // live mode only
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

// NewBinanceClient builds the REST client from configuration.
func NewBinanceClient(cfg *config.Config, logger *zap.Logger) (*binance.Client, error) {
	return binance.NewClient(binance.Config{
		BaseURL:   cfg.BinanceRESTURL,
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Timeout:   cfg.HTTPTimeout,
		TickerTTL: time.Second,
		Logger:    logger,
	})
}

// NewCachedSource wraps src with the ristretto-backed pair and quote cache.
func NewCachedSource(cfg *config.Config, logger *zap.Logger, src market.Source) (*market.CachedSource, error) {
	c, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "market",
		NumCounters: 10000,
		MaxCost:     1 << 16,
		Cost:        market.EntryCost,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create market cache: %w", err)
	}

	return market.NewCachedSource(market.CachedSourceConfig{
		Source:    src,
		Cache:     c,
		PairsTTL:  cfg.MarketPairsTTL,
		QuotesTTL: cfg.MarketQuotesTTL,
		Logger:    logger,
	}), nil
}

func setupMarketData(cfg *config.Config, logger *zap.Logger) (*marketData, error) {
	client, err := NewBinanceClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create binance client: %w", err)
	}

	md := &marketData{stack: &marketStack{}, client: client}

	var src market.Source = client
	if cfg.MarketDataMode == "stream" {
		md.stack.wsManager = websocket.New(websocket.Config{
			URL:                   cfg.BinanceWSURL,
			DialTimeout:           cfg.WSDialTimeout,
			PongTimeout:           cfg.WSPongTimeout,
			PingInterval:          cfg.WSPingInterval,
			ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
			ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
			ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
			ReconnectMaxAttempts:  cfg.WSReconnectMaxAttempts,
			MessageBufferSize:     cfg.WSMessageBufferSize,
			Logger:                logger,
		})

		md.stack.book, err = tickerbook.New(&tickerbook.Config{
			Exchange:       binance.Name,
			Logger:         logger,
			MessageChannel: md.stack.wsManager.MessageChan(),
			Pairs:          client,
			MaxAge:         time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("create ticker book: %w", err)
		}
		src = md.stack.book
	}

	md.source, err = NewCachedSource(cfg, logger, src)
	if err != nil {
		return nil, err
	}
	md.stack.source = md.source

	switch cfg.ExecutionMode {
	case config.ModeLive:
		trader := binance.NewTrader(client, cfg.QuoteAsset)
		md.trading = trader
		md.balance = trader
	default:
		// Dry-run never reaches the client; paper fills against the quotes.
		md.trading = execution.NewPaperClient(md.source, logger)
	}

	logger.Info("market-data-configured",
		zap.String("exchange", binance.Name),
		zap.String("market-data-mode", cfg.MarketDataMode),
		zap.String("execution-mode", cfg.ExecutionMode))

	return md, nil
}

// setupDiscovery watches the listing through the uncached client and
// invalidates the market cache when it changes.
func setupDiscovery(cfg *config.Config, logger *zap.Logger, md *marketData) (*discovery.Service, error) {
	if cfg.DiscoveryPollInterval == 0 {
		return nil, nil
	}

	return discovery.New(&discovery.Config{
		Lister:       md.client,
		Invalidator:  md.source,
		PollInterval: cfg.DiscoveryPollInterval,
		Logger:       logger,
	})
}

// NewStorage opens the trade and opportunity store selected by STORAGE_MODE.
func NewStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageMode {
	case "postgres":
		pgStorage, err := storage.NewPostgresStorage(ctx, &storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	case "sqlite":
		sqliteStorage, err := storage.NewSQLiteStorage(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return sqliteStorage, nil
	default:
		return storage.NewConsoleStorage(logger), nil
	}
}

func setupOpportunityCache(cfg *config.Config, logger *zap.Logger, src market.Source, store storage.Storage) *arbitrage.Cache {
	scanner := arbitrage.NewScanner(arbitrage.ScannerConfig{
		Sources: []market.Source{src},
		Constraints: arbitrage.Constraints{
			MinProfitPercent:     cfg.ScanMinProfitPercent,
			MinVolume:            cfg.ScanMinVolume,
			MinVolatilityPercent: cfg.ScanMinVolatilityPercent,
			MaxVolatilityPercent: cfg.ScanMaxVolatilityPercent,
		},
		Storage: store,
		Logger:  logger,
	})

	return arbitrage.NewCache(arbitrage.CacheConfig{
		Refresher: scanner,
		Horizon:   cfg.CacheHorizon,
		Capacity:  cfg.CacheCapacity,
		Debounce:  cfg.CacheDebounce,
		Logger:    logger,
	})
}

func setupRiskManager(cfg *config.Config, logger *zap.Logger) (*risk.Manager, error) {
	return risk.NewManager(risk.Config{
		Balance:         cfg.RiskInitialBalance,
		RiskFraction:    cfg.RiskMaxRiskPerTrade,
		DefaultStopLoss: cfg.RiskDefaultStopLoss,
		CapMultiplier:   cfg.RiskPortfolioCapMultiplier,
		Logger:          logger,
	})
}

// setupNotifier always logs, and also publishes to Redis when enabled.
func setupNotifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (execution.Notifier, *notify.RedisSink, error) {
	sinks := notify.Multi{notify.NewLogSink(logger)}
	if !cfg.NotifyRedisEnabled {
		return sinks, nil, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	redisSink, err := notify.NewRedisSink(pingCtx, notify.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisChannel,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create redis sink: %w", err)
	}

	return append(sinks, redisSink), redisSink, nil
}

// setupCircuitBreaker returns nil when disabled or when there is no real
// account balance to watch.
func setupCircuitBreaker(
	cfg *config.Config,
	logger *zap.Logger,
	fetcher circuitbreaker.BalanceFetcher,
	riskManager *risk.Manager,
) (*circuitbreaker.BalanceCircuitBreaker, error) {
	if !cfg.CircuitBreakerEnabled {
		return nil, nil
	}
	if fetcher == nil {
		logger.Info("circuit-breaker-disabled-no-account",
			zap.String("execution-mode", cfg.ExecutionMode),
			zap.String("note", "balance checks need live credentials"))
		return nil, nil
	}

	breaker, err := circuitbreaker.New(&circuitbreaker.Config{
		CheckInterval:   cfg.CircuitBreakerCheckInterval,
		TradeMultiplier: cfg.CircuitBreakerTradeMultiplier,
		MinAbsolute:     cfg.CircuitBreakerMinAbsolute,
		HysteresisRatio: cfg.CircuitBreakerHysteresisRatio,
		Fetcher:         fetcher,
		OnBalance: func(balance float64) {
			if err := riskManager.SetBalance(balance); err != nil {
				logger.Warn("risk-balance-not-updated", zap.Float64("balance", balance), zap.Error(err))
			}
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create circuit breaker: %w", err)
	}

	logger.Info("circuit-breaker-enabled",
		zap.Duration("check-interval", cfg.CircuitBreakerCheckInterval),
		zap.Float64("trade-multiplier", cfg.CircuitBreakerTradeMultiplier),
		zap.Float64("min-absolute", cfg.CircuitBreakerMinAbsolute),
		zap.Float64("hysteresis-ratio", cfg.CircuitBreakerHysteresisRatio))

	return breaker, nil
}

// ExecutorSettings builds the initial executor settings from configuration.
func ExecutorSettings(cfg *config.Config) (execution.Settings, error) {
	mode, err := execution.ParseTradingMode(cfg.ExecutionTradingMode)
	if err != nil {
		return execution.Settings{}, err
	}

	s := execution.Settings{
		TradingEnabled:    cfg.ExecutionTradingEnabled,
		DryRun:            cfg.ExecutionMode == config.ModeDryRun,
		MaxPositionSize:   cfg.ExecutionMaxPositionSize,
		MaxConcurrent:     cfg.ExecutionMaxConcurrent,
		StopLossPercent:   cfg.ExecutionStopLossPercent,
		TakeProfitPercent: cfg.ExecutionTakeProfitPercent,
		TradingMode:       mode,
	}
	return s, s.Validate()
}

func setupExecutor(
	cfg *config.Config,
	logger *zap.Logger,
	riskManager *risk.Manager,
	store storage.Storage,
	notifier execution.Notifier,
	breaker *circuitbreaker.BalanceCircuitBreaker,
	md *marketData,
) (*execution.Executor, error) {
	settings, err := ExecutorSettings(cfg)
	if err != nil {
		return nil, err
	}

	var gate execution.Gate
	if breaker != nil {
		gate = breaker
	}

	executor, err := execution.New(execution.Config{
		Settings:        settings,
		Risk:            riskManager,
		Store:           store,
		Notifier:        notifier,
		Gate:            gate,
		UserID:          cfg.OperatorID,
		MonitorInterval: cfg.MonitorInterval,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	executor.AddExchange(binance.Name, md.trading)

	return executor, nil
}

func setupAutoTrader(
	cfg *config.Config,
	logger *zap.Logger,
	feed autotrader.Feed,
	riskManager *risk.Manager,
	executor *execution.Executor,
) (*autotrader.Trader, error) {
	return autotrader.New(autotrader.Options{
		Config: autotrader.Config{
			Exchanges:        []string{binance.Name},
			TradingInterval:  cfg.AutoTradeInterval,
			MinProfitPercent: cfg.AutoTradeMinProfitPercent,
			MaxTradeVolume:   cfg.AutoTradeMaxTradeVolume,
		},
		Feed:     feed,
		Risk:     riskManager,
		Executor: executor,
		Logger:   logger,
	})
}

func setupHTTPServer(ctx context.Context, a *App) *httpserver.Server {
	srvCfg := &httpserver.Config{
		Port:          a.cfg.HTTPPort,
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
		BaseContext:   ctx,
		Exchanges:     []string{binance.Name},
		UserID:        a.cfg.OperatorID,
		Opportunities: a.oppCache,
		Positions:     a.executor,
		Risk:          a.riskManager,
		AutoTrader:    a.autoTrader,
	}
	if a.breaker != nil {
		srvCfg.Breaker = a.breaker
	}
	if a.discovery != nil {
		srvCfg.Pairs = a.discovery
	}
	if reader, ok := a.storage.(storage.TradeReader); ok {
		srvCfg.Trades = reader
	}

	return httpserver.New(srvCfg)
}

func (a *App) registerReadinessChecks() {
	if book := a.market.book; book != nil {
		a.healthChecker.Register("market-data", func(context.Context) error {
			select {
			case <-book.Ready():
				return nil
			default:
				return errors.New("no ticker received yet")
			}
		})
	}
	if a.breaker != nil {
		a.healthChecker.Register("circuit-breaker", func(context.Context) error {
			if !a.breaker.IsEnabled() {
				return errors.New("trading halted: balance below threshold")
			}
			return nil
		})
	}
}
