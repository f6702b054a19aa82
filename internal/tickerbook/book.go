// Package tickerbook keeps the latest 24h ticker of every symbol from a
// market stream and serves it as a market.Source.
package tickerbook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mselser95/triarb/internal/exchange/binance"
	"github.com/mselser95/triarb/internal/market"
	"github.com/mselser95/triarb/pkg/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrNotReady is returned by Prices and Volumes before the first ticker arrives.
var ErrNotReady = errors.New("ticker book has no data yet")

// PairLister supplies the tradable pairs. The stream carries prices only.
type PairLister interface {
	Pairs(ctx context.Context) ([]market.Pair, error)
}

// Entry is the latest ticker of one symbol.
type Entry struct {
	binance.Ticker
	UpdatedAt time.Time
}

// Book holds ticker state for all symbols seen on the stream.
type Book struct {
	exchange string
	entries  map[string]Entry
	mu       sync.RWMutex
	logger   *zap.Logger
	msgChan  <-chan *websocket.TickerEvent
	pairs    PairLister
	maxAge   time.Duration
	ready    chan struct{}
	once     sync.Once
	now      func() time.Time
	wg       sync.WaitGroup
}

// Config holds ticker book configuration.
type Config struct {
	Exchange       string
	Logger         *zap.Logger
	MessageChannel <-chan *websocket.TickerEvent
	Pairs          PairLister
	// MaxAge drops symbols that have not ticked within it. Zero keeps everything.
	MaxAge time.Duration
}

// New creates a ticker book.
func New(cfg *Config) (*Book, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MessageChannel == nil {
		return nil, errors.New("message channel cannot be nil")
	}
	if cfg.Pairs == nil {
		return nil, errors.New("pair lister cannot be nil")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("exchange cannot be empty")
	}

	return &Book{
		exchange: cfg.Exchange,
		entries:  make(map[string]Entry),
		logger:   cfg.Logger,
		msgChan:  cfg.MessageChannel,
		pairs:    cfg.Pairs,
		maxAge:   cfg.MaxAge,
		ready:    make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start consumes the message channel until ctx is done or the channel closes.
func (b *Book) Start(ctx context.Context) {
	b.logger.Info("tickerbook-starting", zap.String("exchange", b.exchange))

	b.wg.Add(1)
	go b.processMessages(ctx)
}

func (b *Book) processMessages(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("tickerbook-stopping")
			return
		case ev, ok := <-b.msgChan:
			if !ok {
				b.logger.Info("message-channel-closed")
				return
			}

			err := b.apply(ev)
			if err != nil {
				UpdatesTotal.WithLabelValues("invalid").Inc()
				b.logger.Debug("ticker-event-rejected",
					zap.String("symbol", ev.Symbol),
					zap.Error(err))
				continue
			}
			UpdatesTotal.WithLabelValues("applied").Inc()
		}
	}
}

// apply parses and stores one event. Parsing happens outside the lock.
func (b *Book) apply(ev *websocket.TickerEvent) error {
	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	t, err := parseEvent(ev)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.entries[ev.Symbol] = Entry{Ticker: t, UpdatedAt: b.now()}
	SymbolsTracked.Set(float64(len(b.entries)))
	b.mu.Unlock()

	b.once.Do(func() { close(b.ready) })

	return nil
}

func parseEvent(ev *websocket.TickerEvent) (binance.Ticker, error) {
	if ev.Symbol == "" {
		return binance.Ticker{}, errors.New("missing symbol")
	}

	var (
		t   binance.Ticker
		err error
	)
	if t.Last, err = strconv.ParseFloat(ev.Close, 64); err != nil {
		return binance.Ticker{}, fmt.Errorf("parse close: %w", err)
	}
	if t.Last <= 0 {
		return binance.Ticker{}, fmt.Errorf("non-positive close %v", t.Last)
	}
	// Range and volume are optional; a missing value leaves zero.
	if ev.High != "" {
		if t.High, err = strconv.ParseFloat(ev.High, 64); err != nil {
			return binance.Ticker{}, fmt.Errorf("parse high: %w", err)
		}
	}
	if ev.Low != "" {
		if t.Low, err = strconv.ParseFloat(ev.Low, 64); err != nil {
			return binance.Ticker{}, fmt.Errorf("parse low: %w", err)
		}
	}
	if ev.QuoteVolume != "" {
		if t.QuoteVolume, err = strconv.ParseFloat(ev.QuoteVolume, 64); err != nil {
			return binance.Ticker{}, fmt.Errorf("parse quote volume: %w", err)
		}
	}
	return t, nil
}

// Ready is closed once the first ticker has been applied.
func (b *Book) Ready() <-chan struct{} {
	return b.ready
}

// Get returns the ticker for symbol.
func (b *Book) Get(symbol string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[symbol]
	return e, ok
}

// Len returns the number of symbols held.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// fresh copies every entry younger than maxAge.
func (b *Book) fresh() (map[string]Entry, error) {
	select {
	case <-b.ready:
	default:
		return nil, ErrNotReady
	}

	now := b.now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Entry, len(b.entries))
	for sym, e := range b.entries {
		if b.maxAge > 0 && now.Sub(e.UpdatedAt) > b.maxAge {
			StaleSymbolsSkipped.Inc()
			continue
		}
		out[sym] = e
	}
	return out, nil
}

// Exchange implements market.Source.
func (b *Book) Exchange() string { return b.exchange }

// Pairs implements market.Source by delegating to the pair lister.
func (b *Book) Pairs(ctx context.Context) ([]market.Pair, error) {
	return b.pairs.Pairs(ctx)
}

// Prices implements market.Source from the streamed tickers.
func (b *Book) Prices(_ context.Context) (map[string]market.Quote, error) {
	entries, err := b.fresh()
	if err != nil {
		return nil, err
	}

	out := make(map[string]market.Quote, len(entries))
	for sym, e := range entries {
		out[sym] = market.Quote{Price: e.Last, Volatility: e.Volatility()}
	}
	return out, nil
}

// Volumes implements market.Source from the streamed tickers.
func (b *Book) Volumes(_ context.Context) (map[string]float64, error) {
	entries, err := b.fresh()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(entries))
	for sym, e := range entries {
		out[sym] = e.QuoteVolume
	}
	return out, nil
}

// Wait blocks until the processing goroutine has exited.
func (b *Book) Wait() {
	b.wg.Wait()
	b.logger.Info("tickerbook-stopped")
}
