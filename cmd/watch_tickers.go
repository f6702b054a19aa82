package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/triarb/pkg/websocket"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchTickersCmd = &cobra.Command{
	Use:   "watch-tickers [symbol...]",
	Short: "Watch live ticker updates from the Binance stream",
	Long: `Connects to the Binance WebSocket stream and displays real-time ticker
updates. With symbols, subscribes to each symbol's mini ticker; without,
subscribes to the all-market stream. Useful for debugging the stream
market data mode.

Example:
  triarb watch-tickers BTCUSDT ETHBTC ETHUSDT`,
	RunE: runWatchTickers,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(watchTickersCmd)
	watchTickersCmd.Flags().BoolP("json", "j", false, "Output raw JSON messages")
	watchTickersCmd.Flags().Int("max-reconnects", 5, "Give up after this many failed redials (0 retries forever)")
}

// tickerStreams maps symbols to their mini ticker streams, or the all-market stream.
func tickerStreams(symbols []string) []string {
	if len(symbols) == 0 {
		return []string{websocket.AllMarketMiniTickers}
	}
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@miniTicker")
	}
	slices.Sort(streams)
	return slices.Compact(streams)
}

func runWatchTickers(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, logger, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	maxReconnects, _ := cmd.Flags().GetInt("max-reconnects")

	wsManager := websocket.New(websocket.Config{
		URL:                   cfg.BinanceWSURL,
		DialTimeout:           cfg.WSDialTimeout,
		PongTimeout:           cfg.WSPongTimeout,
		PingInterval:          cfg.WSPingInterval,
		ReconnectInitialDelay: cfg.WSReconnectInitialDelay,
		ReconnectMaxDelay:     cfg.WSReconnectMaxDelay,
		ReconnectBackoffMult:  cfg.WSReconnectBackoffMult,
		ReconnectMaxAttempts:  maxReconnects,
		MessageBufferSize:     cfg.WSMessageBufferSize,
		Logger:                logger,
	})

	err = wsManager.Start()
	if err != nil {
		return fmt.Errorf("start websocket: %w", err)
	}
	defer wsManager.Close()

	streams := tickerStreams(args)
	err = wsManager.Subscribe(ctx, streams)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	fmt.Printf("Subscribed to %s. Watching for ticker updates...\n", strings.Join(streams, ", "))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	msgChan := wsManager.MessageChan()

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			return nil
		case <-wsManager.Done():
			return fmt.Errorf("ticker stream stopped after %d failed reconnects", maxReconnects)
		case ev, ok := <-msgChan:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			if jsonOutput {
				jsonBytes, _ := json.Marshal(ev)
				fmt.Println(string(jsonBytes))
				continue
			}
			printTicker(w, ev)
		}
	}
}

func printTicker(w *tabwriter.Writer, ev *websocket.TickerEvent) {
	printTickerTo(w, ev)
	_ = w.Flush()
}

func printTickerTo(w io.Writer, ev *websocket.TickerEvent) {
	timestamp := time.UnixMilli(ev.EventTime).UTC().Format("15:04:05")
	fmt.Fprintf(w, "[%s] %s\tlast %s\thigh %s\tlow %s\tquote vol %s\n",
		timestamp, ev.Symbol, ev.Close, ev.High, ev.Low, ev.QuoteVolume)
}
