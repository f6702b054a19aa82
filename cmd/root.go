package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "triarb",
	Short: "Triangular arbitrage scanner and trader",
	Long: `Triangular arbitrage engine for Binance spot markets.

The engine builds a price graph from the exchange's pairs, searches every
three-asset cycle (A -> B -> C -> A) for a profitable round trip, keeps the
best recent opportunities in a short-lived cache, and opens risk-sized
positions that are monitored until stop-loss or take-profit.

Trades run in dry-run, paper, or live mode (EXECUTION_MODE).`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
