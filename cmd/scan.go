package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/triarb/internal/app"
	"github.com/mselser95/triarb/internal/arbitrage"
	"github.com/mselser95/triarb/internal/market"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan and print the opportunities found",
	Long: `Loads Binance pairs and 24h tickers over REST, searches every triangular
cycle once, and prints the admitted opportunities ranked by profit.

Thresholds default to the SCAN_* configuration and can be overridden per run.

Examples:
  triarb scan
  triarb scan --min-profit 0.2 --min-volume 50000 --limit 5
  triarb scan --format json > opportunities.json`,
	RunE: runScan,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().Float64("min-profit", -1, "Minimum profit percent (default SCAN_MIN_PROFIT_PERCENT)")
	scanCmd.Flags().Float64("min-volume", -1, "Minimum bottleneck volume (default SCAN_MIN_VOLUME)")
	scanCmd.Flags().IntP("limit", "l", 20, "Maximum number of opportunities to print (0 for all)")
	scanCmd.Flags().String("format", "table", "Output format: table, json")
}

func runScan(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format: %s (valid: table, json)", format)
	}

	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	constraints := arbitrage.Constraints{
		MinProfitPercent:     cfg.ScanMinProfitPercent,
		MinVolume:            cfg.ScanMinVolume,
		MinVolatilityPercent: cfg.ScanMinVolatilityPercent,
		MaxVolatilityPercent: cfg.ScanMaxVolatilityPercent,
	}
	if v, _ := cmd.Flags().GetFloat64("min-profit"); v >= 0 {
		constraints.MinProfitPercent = v
	}
	if v, _ := cmd.Flags().GetFloat64("min-volume"); v >= 0 {
		constraints.MinVolume = v
	}
	limit, _ := cmd.Flags().GetInt("limit")

	client, err := app.NewBinanceClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("create binance client: %w", err)
	}

	scanner := arbitrage.NewScanner(arbitrage.ScannerConfig{
		Sources:     []market.Source{client},
		Constraints: constraints,
		Logger:      logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	opps, err := scanner.Scan(ctx, client.Exchange())
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	opps = rankOpportunities(opps, limit)

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(opps)
	}

	printOpportunities(os.Stdout, opps)
	return nil
}

// rankOpportunities sorts by profit, highest first, and keeps at most limit.
func rankOpportunities(opps []*arbitrage.Opportunity, limit int) []*arbitrage.Opportunity {
	ranked := slices.Clone(opps)
	slices.SortStableFunc(ranked, func(a, b *arbitrage.Opportunity) int {
		return cmp.Compare(b.ProfitPercent, a.ProfitPercent)
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func printOpportunities(out io.Writer, opps []*arbitrage.Opportunity) {
	if len(opps) == 0 {
		fmt.Fprintln(out, "No opportunities found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPATH\tPROFIT %\tVOLUME\tVOLATILITY %\tSYMBOLS")
	for i, o := range opps {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%.2f\t%.3f\t%s\n",
			i+1, strings.Join(o.Path, " -> "), o.ProfitPercent, o.Volume, o.Volatility,
			strings.Join(o.Symbols(), ","))
	}
	_ = w.Flush()

	fmt.Fprintf(out, "\n%d opportunities\n", len(opps))
}
