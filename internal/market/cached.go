package market

import (
	"context"
	"time"

	"github.com/mselser95/triarb/pkg/cache"
	"go.uber.org/zap"
)

// CachedSource wraps a Source and caches its responses.
// Pairs change rarely and use PairsTTL; prices and volumes use QuotesTTL.
type CachedSource struct {
	src       Source
	cache     cache.Cache
	pairsTTL  time.Duration
	quotesTTL time.Duration
	logger    *zap.Logger
}

// CachedSourceConfig configures a CachedSource.
type CachedSourceConfig struct {
	Source    Source
	Cache     cache.Cache
	PairsTTL  time.Duration
	QuotesTTL time.Duration
	Logger    *zap.Logger
}

// NewCachedSource creates a caching decorator around cfg.Source.
func NewCachedSource(cfg CachedSourceConfig) *CachedSource {
	return &CachedSource{
		src:       cfg.Source,
		cache:     cfg.Cache,
		pairsTTL:  cfg.PairsTTL,
		quotesTTL: cfg.QuotesTTL,
		logger:    cfg.Logger,
	}
}

// Exchange implements Source.
func (c *CachedSource) Exchange() string {
	return c.src.Exchange()
}

func (c *CachedSource) key(kind string) string {
	return c.src.Exchange() + ":" + kind
}

// Pairs implements Source.
func (c *CachedSource) Pairs(ctx context.Context) ([]Pair, error) {
	return cached(ctx, c, "pairs", c.pairsTTL, c.src.Pairs)
}

// Prices implements Source.
func (c *CachedSource) Prices(ctx context.Context) (map[string]Quote, error) {
	return cached(ctx, c, "prices", c.quotesTTL, c.src.Prices)
}

// Volumes implements Source.
func (c *CachedSource) Volumes(ctx context.Context) (map[string]float64, error) {
	return cached(ctx, c, "volumes", c.quotesTTL, c.src.Volumes)
}

func cached[T any](ctx context.Context, c *CachedSource, kind string, ttl time.Duration,
	fetch func(context.Context) (T, error)) (T, error) {
	key := c.key(kind)
	if v, ok := cache.GetAs[T](c.cache, key); ok {
		return v, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	SourceCacheRefreshesTotal.WithLabelValues(c.src.Exchange(), kind).Inc()

	if !c.cache.Set(key, v, ttl) {
		c.logger.Debug("market-cache-set-dropped", zap.String("key", key))
	}

	return v, nil
}

// Invalidate drops every cached response, forcing the next call upstream.
func (c *CachedSource) Invalidate() {
	for _, kind := range []string{"pairs", "prices", "volumes"} {
		c.cache.Delete(c.key(kind))
	}
}

// Close releases the underlying cache.
func (c *CachedSource) Close() {
	c.cache.Close()
}

// EntryCost charges cached responses by entry count so a cache's MaxCost
// bounds the symbols held rather than the number of responses.
func EntryCost(v any) int64 {
	var n int
	switch t := v.(type) {
	case []Pair:
		n = len(t)
	case map[string]Quote:
		n = len(t)
	case map[string]float64:
		n = len(t)
	}
	return int64(max(n, 1))
}
