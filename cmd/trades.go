package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/triarb/internal/storage"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Display persisted trades and their profit summary",
	Long: `Reads trades recorded by the engine from SQLite or PostgreSQL (STORAGE_MODE)
for OPERATOR_ID and prints them with a profit summary.

Examples:
  # Show all trades (default table format)
  triarb trades

  # Show only open trades
  triarb trades --status open

  # Export to CSV
  triarb trades --format csv > trades.csv`,
	RunE: runTrades,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(tradesCmd)
	tradesCmd.Flags().String("status", "", "Filter by status: open, closed")
	tradesCmd.Flags().String("format", "table", "Output format: table, json, csv")
}

// TradeSummary holds aggregate statistics over a set of trades.
type TradeSummary struct {
	Total       int
	Open        int
	Closed      int
	Wins        int
	Losses      int
	TotalProfit float64
	TotalVolume float64
}

func runTrades(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	format, _ := cmd.Flags().GetString("format")

	err := validateTradesFlags(status, format)
	if err != nil {
		return err
	}

	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reader, closeFn, err := openTradeReader(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if reader == nil {
		return fmt.Errorf("STORAGE_MODE %q keeps no trade history; use sqlite or postgres", cfg.StorageMode)
	}
	defer closeFn()

	trades, err := reader.Trades(ctx, cfg.OperatorID, status)
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}

	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(trades)
	case "csv":
		return writeTradesCSV(os.Stdout, trades)
	default:
		printTrades(os.Stdout, trades)
		return nil
	}
}

func validateTradesFlags(status, format string) error {
	switch status {
	case "", storage.TradeOpen, storage.TradeClosed:
	default:
		return fmt.Errorf("invalid status: %s (valid: open, closed)", status)
	}

	validFormats := map[string]bool{"table": true, "json": true, "csv": true}
	if !validFormats[format] {
		return fmt.Errorf("invalid format: %s (valid: table, json, csv)", format)
	}
	return nil
}

func summarizeTrades(trades []storage.Trade) TradeSummary {
	var s TradeSummary
	for _, t := range trades {
		s.Total++
		s.TotalVolume += t.Volume
		if t.Status != storage.TradeClosed {
			s.Open++
			continue
		}
		s.Closed++
		s.TotalProfit += t.Profit
		if t.Profit > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
	}
	return s
}

func printTrades(out io.Writer, trades []storage.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(out, "No trades found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEXCHANGE\tPATH\tVOLUME\tPROFIT\tSTATUS\tOPENED\tCLOSED")
	for _, t := range trades {
		closed := "-"
		if t.ClosedAt != nil {
			closed = t.ClosedAt.Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.4f\t%s\t%s\t%s\n",
			t.ID, t.Exchange, t.Path, t.Volume, t.Profit, t.Status,
			t.CreatedAt.Format(time.DateTime), closed)
	}
	_ = w.Flush()

	s := summarizeTrades(trades)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Trades: %d (%d open, %d closed)\n", s.Total, s.Open, s.Closed)
	fmt.Fprintf(out, "Closed: %d wins, %d losses\n", s.Wins, s.Losses)
	fmt.Fprintf(out, "Realized profit: %.4f on %.2f volume\n", s.TotalProfit, s.TotalVolume)
}

func writeTradesCSV(out io.Writer, trades []storage.Trade) error {
	w := csv.NewWriter(out)

	err := w.Write([]string{"id", "user_id", "exchange", "path", "volume", "profit", "status", "created_at", "closed_at"})
	if err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, t := range trades {
		closed := ""
		if t.ClosedAt != nil {
			closed = t.ClosedAt.UTC().Format(time.RFC3339)
		}
		err = w.Write([]string{
			t.ID,
			t.UserID,
			t.Exchange,
			t.Path,
			strconv.FormatFloat(t.Volume, 'f', -1, 64),
			strconv.FormatFloat(t.Profit, 'f', -1, 64),
			t.Status,
			t.CreatedAt.UTC().Format(time.RFC3339),
			closed,
		})
		if err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}
