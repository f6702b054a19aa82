package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Shutdown stops producers before consumers: HTTP first so no new work
// arrives, then the auto-trader, the executor's monitor loop, the breaker,
// the market stream, and finally storage and notifiers.
// Open positions are left open; they are visible in storage as open trades.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var errs []error

	err := a.shutdownHTTPServer(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
		errs = append(errs, err)
	}

	a.autoTrader.Stop()

	// Cancel context to signal all components
	a.cancel()

	a.autoTrader.Wait()
	a.executor.Wait()
	if a.breaker != nil {
		a.breaker.Wait()
	}

	err = a.shutdownMarketStream()
	if err != nil {
		a.logger.Error("market-stream-close-error", zap.Error(err))
		errs = append(errs, err)
	}

	if open := a.executor.OpenPositions(); len(open) > 0 {
		a.logger.Warn("open-positions-at-shutdown", zap.Int("count", len(open)))
	}

	err = a.storage.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
		errs = append(errs, err)
	}

	if a.redisSink != nil {
		err = a.redisSink.Close()
		if err != nil {
			a.logger.Error("redis-close-error", zap.Error(err))
			errs = append(errs, err)
		}
	}

	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return errors.Join(errs...)
}

func (a *App) shutdownHTTPServer(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

func (a *App) shutdownMarketStream() error {
	defer a.market.source.Close()

	if a.market.wsManager == nil {
		return nil
	}

	err := a.market.wsManager.Close()
	a.market.book.Wait()
	return err
}
