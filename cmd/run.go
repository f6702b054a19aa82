package cmd

import (
	"fmt"

	"github.com/mselser95/triarb/internal/app"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the arbitrage engine",
	Long: `Starts the arbitrage engine, which will:
1. Load Binance pairs and prices (REST polling or the ticker stream)
2. Keep the best recent triangular opportunities per exchange
3. Serve the HTTP API for opportunities, positions, settings and risk
4. Monitor open positions for stop-loss and take-profit
5. Trade automatically when AUTOTRADE_ENABLED is set

Use --auto-trade to enable the auto-trader for this run regardless of AUTOTRADE_ENABLED.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Bool("auto-trade", false, "Start the auto-trader immediately")
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	autoTrade, _ := cmd.Flags().GetBool("auto-trade")
	if autoTrade {
		cfg.AutoTradeEnabled = true
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
