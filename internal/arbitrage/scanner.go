package arbitrage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/triarb/internal/market"
	"go.uber.org/zap"
)

// Storage records detected opportunities for later analysis.
type Storage interface {
	StoreOpportunity(ctx context.Context, opp *Opportunity) error
}

// Scanner is the refresh pipeline: snapshot an exchange, then search it for cycles.
type Scanner struct {
	sources map[string]market.Source
	finder  *PathFinder
	storage Storage
	logger  *zap.Logger

	mu          sync.RWMutex
	constraints Constraints
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	Sources     []market.Source
	Constraints Constraints
	Storage     Storage // optional
	Logger      *zap.Logger
}

// NewScanner creates a Scanner over the given sources, keyed by exchange name.
func NewScanner(cfg ScannerConfig) *Scanner {
	sources := make(map[string]market.Source, len(cfg.Sources))
	for _, src := range cfg.Sources {
		sources[src.Exchange()] = src
	}

	return &Scanner{
		sources:     sources,
		finder:      NewPathFinder(cfg.Logger),
		storage:     cfg.Storage,
		logger:      cfg.Logger,
		constraints: cfg.Constraints,
	}
}

// Exchanges returns the names of the configured exchanges.
func (s *Scanner) Exchanges() []string {
	out := make([]string, 0, len(s.sources))
	for name := range s.sources {
		out = append(out, name)
	}
	return out
}

// Constraints returns the active filters.
func (s *Scanner) Constraints() Constraints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.constraints
}

// SetConstraints replaces the filters used by subsequent scans.
func (s *Scanner) SetConstraints(c Constraints) error {
	if c.MinVolume < 0 {
		return fmt.Errorf("min volume cannot be negative: %f", c.MinVolume)
	}
	if c.MinVolatilityPercent > c.MaxVolatilityPercent {
		return fmt.Errorf("min volatility %f exceeds max volatility %f",
			c.MinVolatilityPercent, c.MaxVolatilityPercent)
	}

	s.mu.Lock()
	s.constraints = c
	s.mu.Unlock()
	return nil
}

// Scan loads a fresh graph for exchange and returns every admitted cycle in discovery order.
func (s *Scanner) Scan(ctx context.Context, exchange string) ([]*Opportunity, error) {
	src, ok := s.sources[exchange]
	if !ok {
		return nil, fmt.Errorf("unknown exchange %q", exchange)
	}

	start := time.Now()
	defer func() {
		ScanDurationSeconds.WithLabelValues(exchange).Observe(time.Since(start).Seconds())
	}()

	g, err := market.LoadGraph(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", exchange, err)
	}

	var found []*Opportunity
	for opp := range s.finder.Find(g, s.Constraints()) {
		found = append(found, opp)
		s.store(ctx, opp)
	}

	s.logger.Debug("scan-complete",
		zap.String("exchange", exchange),
		zap.Int("assets", len(g.Assets())),
		zap.Int("pairs", g.EdgeCount()),
		zap.Int("opportunities", len(found)),
		zap.Duration("duration", time.Since(start)))

	return found, nil
}

func (s *Scanner) store(ctx context.Context, opp *Opportunity) {
	if s.storage == nil {
		return
	}
	if err := s.storage.StoreOpportunity(ctx, opp); err != nil {
		s.logger.Warn("store-opportunity-failed",
			zap.String("opportunity-id", opp.ID),
			zap.Error(err))
	}
}
