package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mselser95/triarb/pkg/websocket"
	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("execution-mode", a.cfg.ExecutionMode),
		zap.String("market-data-mode", a.cfg.MarketDataMode),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.Bool("auto-trade", a.cfg.AutoTradeEnabled),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		_ = a.Shutdown()
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	err := a.startMarketStream()
	if err != nil {
		return fmt.Errorf("start market stream: %w", err)
	}

	if a.discovery != nil {
		a.wg.Add(1)
		go a.runDiscovery()
	}

	if a.breaker != nil {
		a.breaker.Start(a.ctx)
	}

	a.executor.Start(a.ctx)

	if a.cfg.AutoTradeEnabled {
		a.autoTrader.Start(a.ctx)
	} else {
		a.logger.Info("auto-trader-idle",
			zap.String("note", "start it with POST /api/autotrader/start"))
	}

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runDiscovery() {
	defer a.wg.Done()
	err := a.discovery.Run(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("pair-discovery-error", zap.Error(err))
	}
}

// startMarketStream connects the ticker stream in stream mode; REST mode has nothing to start.
func (a *App) startMarketStream() error {
	if a.market.wsManager == nil {
		return nil
	}

	a.market.book.Start(a.ctx)

	err := a.market.wsManager.Start()
	if err != nil {
		return err
	}

	return a.market.wsManager.Subscribe(a.ctx, []string{websocket.AllMarketMiniTickers})
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
