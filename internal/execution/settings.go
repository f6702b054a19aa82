package execution

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidSetting is returned when a settings update is rejected.
var ErrInvalidSetting = errors.New("invalid execution setting")

// TradingMode selects a risk preset.
type TradingMode string

// Trading modes.
const (
	ModeConservative TradingMode = "conservative"
	ModeModerate     TradingMode = "moderate"
	ModeAggressive   TradingMode = "aggressive"
)

// ParseTradingMode parses a mode name case-insensitively.
func ParseTradingMode(s string) (TradingMode, error) {
	switch m := TradingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeConservative, ModeModerate, ModeAggressive:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown trading mode %q", ErrInvalidSetting, s)
	}
}

// Settings are the live-tunable executor parameters.
type Settings struct {
	TradingEnabled    bool        `json:"trading_enabled"`
	DryRun            bool        `json:"dry_run"`
	MaxPositionSize   float64     `json:"max_position_size"`
	MaxConcurrent     int         `json:"max_concurrent_trades"`
	StopLossPercent   float64     `json:"stop_loss_percent"`
	TakeProfitPercent float64     `json:"take_profit_percent"`
	TradingMode       TradingMode `json:"trading_mode"`
}

// DefaultSettings returns the moderate preset.
func DefaultSettings() Settings {
	return Settings{
		TradingEnabled:    true,
		MaxPositionSize:   100,
		MaxConcurrent:     3,
		StopLossPercent:   1.0,
		TakeProfitPercent: 2.0,
		TradingMode:       ModeModerate,
	}
}

// Validate checks every numeric field.
func (s Settings) Validate() error {
	if err := validatePositive("max position size", s.MaxPositionSize); err != nil {
		return err
	}
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max concurrent trades must be positive, got %d", ErrInvalidSetting, s.MaxConcurrent)
	}
	if err := validatePercent("stop loss", s.StopLossPercent); err != nil {
		return err
	}
	if err := validatePositive("take profit", s.TakeProfitPercent); err != nil {
		return err
	}
	if _, err := ParseTradingMode(string(s.TradingMode)); err != nil {
		return err
	}
	return nil
}

// withMode applies a preset once. Conservative halves the size cap and
// tightens stops; aggressive doubles the size cap and widens them.
func (s Settings) withMode(mode TradingMode) Settings {
	switch mode {
	case ModeConservative:
		s.MaxPositionSize *= 0.5
		s.StopLossPercent = 0.5
		s.TakeProfitPercent = 1.5
	case ModeAggressive:
		s.MaxPositionSize *= 2
		s.StopLossPercent = 2.0
		s.TakeProfitPercent = 3.0
	case ModeModerate:
	}
	s.TradingMode = mode
	return s
}

func validatePositive(name string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a positive number, got %v", ErrInvalidSetting, name, v)
	}
	return nil
}

func validatePercent(name string, v float64) error {
	if err := validatePositive(name, v); err != nil {
		return err
	}
	if v >= 100 {
		return fmt.Errorf("%w: %s must be below 100%%, got %v", ErrInvalidSetting, name, v)
	}
	return nil
}
