package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mselser95/triarb/internal/market"
	"go.uber.org/zap"
)

// PairLister lists the tradable pairs straight from the exchange.
type PairLister interface {
	Exchange() string
	Pairs(ctx context.Context) ([]market.Pair, error)
}

// Invalidator drops cached market data so the next read goes upstream.
type Invalidator interface {
	Invalidate()
}

// Change is the difference between two consecutive listings.
type Change struct {
	Listed   []market.Pair
	Delisted []market.Pair
}

// Empty reports whether the listing was unchanged.
func (c Change) Empty() bool {
	return len(c.Listed) == 0 && len(c.Delisted) == 0
}

// Service watches an exchange's pair listing by polling it.
// The first poll sets the baseline; later polls that list or delist a
// symbol invalidate the market cache.
type Service struct {
	lister       PairLister
	invalidator  Invalidator
	pollInterval time.Duration
	logger       *zap.Logger
	known        map[string]market.Pair
	baseline     bool
	mu           sync.RWMutex
}

// Config holds discovery service configuration.
type Config struct {
	Lister       PairLister
	Invalidator  Invalidator // optional
	PollInterval time.Duration
	Logger       *zap.Logger
}

// New creates a new discovery service.
func New(cfg *Config) (*Service, error) {
	if cfg.Lister == nil {
		return nil, fmt.Errorf("lister cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", cfg.PollInterval)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Service{
		lister:       cfg.Lister,
		invalidator:  cfg.Invalidator,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		known:        make(map[string]market.Pair),
	}, nil
}

// Run starts the polling loop and returns when ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("pair-discovery-starting",
		zap.String("exchange", s.lister.Exchange()),
		zap.Duration("poll-interval", s.pollInterval))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Initial poll
	_, err := s.Poll(ctx)
	if err != nil {
		s.logger.Error("initial-poll-failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pair-discovery-stopping")
			return ctx.Err()
		case <-ticker.C:
			_, err := s.Poll(ctx)
			if err != nil {
				s.logger.Error("poll-failed", zap.Error(err))
			}
		}
	}
}

// Poll fetches the listing once and applies the difference from the last one.
func (s *Service) Poll(ctx context.Context) (Change, error) {
	exchange := s.lister.Exchange()
	start := time.Now()
	defer func() {
		PollDurationSeconds.WithLabelValues(exchange).Observe(time.Since(start).Seconds())
	}()

	pairs, err := s.lister.Pairs(ctx)
	if err != nil {
		PollErrorsTotal.WithLabelValues(exchange).Inc()
		return Change{}, fmt.Errorf("list %s pairs: %w", exchange, err)
	}

	change, first := s.apply(pairs)
	PairsTracked.WithLabelValues(exchange).Set(float64(len(pairs)))

	if first {
		s.logger.Info("pair-baseline-loaded",
			zap.String("exchange", exchange),
			zap.Int("pairs", len(pairs)))
		return Change{}, nil
	}

	if change.Empty() {
		s.logger.Debug("poll-complete",
			zap.String("exchange", exchange),
			zap.Int("pairs", len(pairs)),
			zap.Duration("duration", time.Since(start)))
		return change, nil
	}

	PairsListedTotal.WithLabelValues(exchange).Add(float64(len(change.Listed)))
	PairsDelistedTotal.WithLabelValues(exchange).Add(float64(len(change.Delisted)))

	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}

	s.logger.Info("pair-listing-changed",
		zap.String("exchange", exchange),
		zap.Strings("listed", symbols(change.Listed)),
		zap.Strings("delisted", symbols(change.Delisted)))

	return change, nil
}

// apply replaces the known listing and returns what changed. first is true
// when there was no previous listing to compare with.
func (s *Service) apply(pairs []market.Pair) (change Change, first bool) {
	next := make(map[string]market.Pair, len(pairs))
	for _, p := range pairs {
		next[p.Symbol] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first = !s.baseline
	if !first {
		for sym, p := range next {
			if _, ok := s.known[sym]; !ok {
				change.Listed = append(change.Listed, p)
			}
		}
		for sym, p := range s.known {
			if _, ok := next[sym]; !ok {
				change.Delisted = append(change.Delisted, p)
			}
		}
		sortPairs(change.Listed)
		sortPairs(change.Delisted)
	}

	s.known = next
	s.baseline = true
	return change, first
}

// Known returns the last polled listing, sorted by symbol.
func (s *Service) Known() []market.Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]market.Pair, 0, len(s.known))
	for _, p := range s.known {
		pairs = append(pairs, p)
	}
	sortPairs(pairs)

	return pairs
}

// Pair looks up a symbol in the last polled listing.
func (s *Service) Pair(symbol string) (market.Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.known[strings.ToUpper(symbol)]
	return p, ok
}

func sortPairs(pairs []market.Pair) {
	slices.SortFunc(pairs, func(a, b market.Pair) int {
		return strings.Compare(a.Symbol, b.Symbol)
	})
}

func symbols(pairs []market.Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Symbol
	}
	return out
}
