package execution

import "go.uber.org/zap"

// Settings returns the current settings.
func (e *Executor) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// update applies fn to a copy of the settings and commits it only if it validates.
func (e *Executor) update(name string, fn func(*Settings)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		e.logger.Warn("settings-update-rejected", zap.String("setting", name), zap.Error(err))
		return err
	}

	e.settings = next
	e.logger.Info("settings-updated",
		zap.String("setting", name),
		zap.Bool("trading-enabled", next.TradingEnabled),
		zap.Bool("dry-run", next.DryRun),
		zap.Float64("max-position-size", next.MaxPositionSize),
		zap.Int("max-concurrent", next.MaxConcurrent),
		zap.Float64("stop-loss-percent", next.StopLossPercent),
		zap.Float64("take-profit-percent", next.TakeProfitPercent),
		zap.String("trading-mode", string(next.TradingMode)))
	return nil
}

// EnableTrading turns trading on or off globally.
func (e *Executor) EnableTrading(enabled bool) {
	_ = e.update("trading-enabled", func(s *Settings) { s.TradingEnabled = enabled })
}

// SetDryRun toggles simulated execution.
func (e *Executor) SetDryRun(enabled bool) {
	_ = e.update("dry-run", func(s *Settings) { s.DryRun = enabled })
}

// SetMaxPositionSize sets the per-position size cap.
func (e *Executor) SetMaxPositionSize(size float64) error {
	return e.update("max-position-size", func(s *Settings) { s.MaxPositionSize = size })
}

// SetMaxConcurrent sets the per-exchange live position limit.
func (e *Executor) SetMaxConcurrent(n int) error {
	return e.update("max-concurrent", func(s *Settings) { s.MaxConcurrent = n })
}

// SetStopLoss sets the stop-loss threshold in percent.
func (e *Executor) SetStopLoss(percent float64) error {
	return e.update("stop-loss", func(s *Settings) { s.StopLossPercent = percent })
}

// SetTakeProfit sets the take-profit threshold in percent.
func (e *Executor) SetTakeProfit(percent float64) error {
	return e.update("take-profit", func(s *Settings) { s.TakeProfitPercent = percent })
}

// SetTradingMode applies a preset to the current settings. Presets compound
// only when set again; later manual changes are kept as-is.
func (e *Executor) SetTradingMode(mode TradingMode) error {
	if _, err := ParseTradingMode(string(mode)); err != nil {
		return err
	}
	return e.update("trading-mode", func(s *Settings) { *s = s.withMode(mode) })
}
