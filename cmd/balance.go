package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/triarb/internal/app"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance [asset...]",
	Short: "Check free Binance account balances",
	Long: `Fetches the free balance of each asset from the Binance account.
Defaults to QUOTE_ASSET. Requires BINANCE_API_KEY and BINANCE_API_SECRET.

Example:
  triarb balance USDT BTC ETH`,
	RunE: runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_API_SECRET must be set")
	}

	client, err := app.NewBinanceClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("create binance client: %w", err)
	}

	assets := args
	if len(assets) == 0 {
		assets = []string{cfg.QuoteAsset}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Binance balances (free):")
	for _, asset := range assets {
		free, err := client.Balance(ctx, asset)
		if err != nil {
			return fmt.Errorf("get %s balance: %w", asset, err)
		}
		fmt.Printf("  %-8s %.8f\n", asset, free)
	}

	return nil
}
