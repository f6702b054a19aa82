package cmd

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/mselser95/triarb/internal/risk"
	"github.com/mselser95/triarb/internal/storage"
	"github.com/mselser95/triarb/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the risk-based and Kelly-adjusted position size",
	Long: `Computes the position size for a stop-loss distance from the configured
balance and per-trade risk fraction, then scales it by the Kelly fraction.

The Kelly inputs come from the trade history in SQLite or PostgreSQL
(STORAGE_MODE) unless --win-rate, --avg-win and --avg-loss are given.
The result is advisory; the engine never applies it automatically.

Examples:
  triarb size --stop-loss 0.02
  triarb size --stop-loss 0.01 --win-rate 0.6 --avg-win 12 --avg-loss 8`,
	RunE: runSize,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(sizeCmd)
	sizeCmd.Flags().Float64("stop-loss", 0, "Stop-loss distance as a fraction (default RISK_DEFAULT_STOP_LOSS)")
	sizeCmd.Flags().Float64("balance", 0, "Account balance (default RISK_INITIAL_BALANCE)")
	sizeCmd.Flags().Float64("win-rate", 0, "Win rate in (0, 1)")
	sizeCmd.Flags().Float64("avg-win", 0, "Average profit of winning trades")
	sizeCmd.Flags().Float64("avg-loss", 0, "Average loss of losing trades, as a positive number")
}

// sizeReport is what the size command prints.
type sizeReport struct {
	Balance   float64
	StopLoss  float64
	BaseSize  float64
	Stats     *storage.Stats
	Kelly     float64
	KellyErr  error
	Suggested float64
}

func runSize(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	balance, _ := cmd.Flags().GetFloat64("balance")
	if balance <= 0 {
		balance = cfg.RiskInitialBalance
	}
	stopLoss, _ := cmd.Flags().GetFloat64("stop-loss")

	stats, err := sizeStats(cmd, cfg, logger)
	if err != nil {
		return err
	}

	report := computeSize(balance, cfg.RiskMaxRiskPerTrade, stopLoss, cfg.RiskDefaultStopLoss, stats)
	printSize(os.Stdout, report)
	return nil
}

// sizeStats takes the Kelly inputs from flags when all three are set,
// otherwise from stored trade history. Nil means no history is available.
func sizeStats(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) (*storage.Stats, error) {
	winRate, _ := cmd.Flags().GetFloat64("win-rate")
	avgWin, _ := cmd.Flags().GetFloat64("avg-win")
	avgLoss, _ := cmd.Flags().GetFloat64("avg-loss")
	if cmd.Flags().Changed("win-rate") || cmd.Flags().Changed("avg-win") || cmd.Flags().Changed("avg-loss") {
		return statsFromRates(winRate, avgWin, avgLoss), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reader, closeFn, err := openTradeReader(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if reader == nil {
		return nil, nil
	}
	defer closeFn()

	stats, err := reader.Stats(ctx, cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("load trade stats: %w", err)
	}
	return &stats, nil
}

// statsFromRates expresses explicit Kelly inputs as stats over 1000 trades.
func statsFromRates(winRate, avgWin, avgLoss float64) *storage.Stats {
	const n = 1000
	return &storage.Stats{
		TotalTrades:      n,
		ProfitableTrades: int(math.Round(winRate * n)),
		AvgWin:           avgWin,
		AvgLoss:          avgLoss,
	}
}

func computeSize(balance, riskFraction, stopLoss, defaultStopLoss float64, stats *storage.Stats) sizeReport {
	if stopLoss <= 0 {
		stopLoss = defaultStopLoss
	}

	r := sizeReport{
		Balance:  balance,
		StopLoss: stopLoss,
		BaseSize: risk.PositionSize(balance, riskFraction, stopLoss, defaultStopLoss),
		Stats:    stats,
	}
	r.Suggested = r.BaseSize

	if stats == nil {
		return r
	}

	r.Kelly, r.KellyErr = risk.Kelly(stats.WinRate(), stats.AvgWin, stats.AvgLoss)
	if r.KellyErr == nil {
		r.Suggested = risk.AdjustSize(r.BaseSize, r.Kelly)
	}
	return r
}

func printSize(out io.Writer, r sizeReport) {
	fmt.Fprintf(out, "Balance:          %.2f\n", r.Balance)
	fmt.Fprintf(out, "Stop-loss:        %.4f\n", r.StopLoss)
	fmt.Fprintf(out, "Risk-based size:  %.2f\n", r.BaseSize)

	switch {
	case r.Stats == nil:
		fmt.Fprintln(out, "Kelly:            no trade history (console storage)")
	case r.KellyErr != nil:
		fmt.Fprintf(out, "Kelly:            unavailable (%v)\n", r.KellyErr)
	default:
		fmt.Fprintf(out, "Win rate:         %.2f%% over %d trades\n", r.Stats.WinRate()*100, r.Stats.TotalTrades)
		fmt.Fprintf(out, "Kelly fraction:   %.4f\n", r.Kelly)
	}

	fmt.Fprintf(out, "Suggested size:   %.2f\n", r.Suggested)
}
