package arbitrage

import (
	"cmp"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Refresher produces a fresh batch of opportunities for an exchange.
type Refresher interface {
	Scan(ctx context.Context, exchange string) ([]*Opportunity, error)
}

// Cache keeps the best recent opportunities per exchange, ranked by profit.
//
// Entries older than the horizon are dropped before every read and write, and
// each exchange holds at most capacity entries. GetTop refreshes through the
// Refresher at most once per debounce window per exchange.
type Cache struct {
	refresher      Refresher
	horizon        time.Duration
	capacity       int
	debounce       time.Duration
	refreshTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time

	mu          sync.Mutex
	entries     map[string][]*Opportunity
	lastRefresh map[string]time.Time
	refreshing  map[string]bool

	flights singleflight.Group
}

// CacheConfig configures a Cache.
type CacheConfig struct {
	Refresher Refresher
	Horizon   time.Duration
	Capacity  int
	Debounce  time.Duration
	Logger    *zap.Logger
	Now       func() time.Time // defaults to time.Now

	// RefreshTimeout bounds a single Scan. Defaults to DefaultRefreshTimeout.
	RefreshTimeout time.Duration
}

// DefaultRefreshTimeout bounds a refresh when CacheConfig leaves it unset.
const DefaultRefreshTimeout = 30 * time.Second

// NewCache creates an opportunity cache.
func NewCache(cfg CacheConfig) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		refresher:      cfg.Refresher,
		horizon:        cfg.Horizon,
		capacity:       cfg.Capacity,
		debounce:       cfg.Debounce,
		refreshTimeout: cmp.Or(cfg.RefreshTimeout, DefaultRefreshTimeout),
		logger:         cfg.Logger,
		now:            now,
		entries:        make(map[string][]*Opportunity),
		lastRefresh:    make(map[string]time.Time),
		refreshing:     make(map[string]bool),
	}
}

// Upsert merges opps into the exchange's ranking.
func (c *Cache) Upsert(exchange string, opps []*Opportunity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.pruneLocked(exchange)
	list = append(list, opps...)

	// Stable so that equal profits keep arrival order.
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].ProfitPercent > list[j].ProfitPercent
	})

	if len(list) > c.capacity {
		CacheEvictionsTotal.WithLabelValues(exchange, "capacity").Add(float64(len(list) - c.capacity))
		clear(list[c.capacity:])
		list = list[:c.capacity]
	}

	c.entries[exchange] = list
	CacheEntries.WithLabelValues(exchange).Set(float64(len(list)))
}

// List returns the current ranking for exchange without refreshing.
func (c *Cache) List(exchange string) []*Opportunity {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*Opportunity(nil), c.pruneLocked(exchange)...)
}

// GetTop refreshes the exchange if its debounce window has elapsed, then
// returns the most profitable cached opportunity.
func (c *Cache) GetTop(ctx context.Context, exchange string) (*Opportunity, bool) {
	c.refreshIfDue(ctx, exchange)

	list := c.List(exchange)
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// Opportunities refreshes if due and returns the full ranking.
func (c *Cache) Opportunities(ctx context.Context, exchange string) []*Opportunity {
	c.refreshIfDue(ctx, exchange)
	return c.List(exchange)
}

// LastRefresh reports when exchange was last refreshed successfully.
func (c *Cache) LastRefresh(exchange string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.lastRefresh[exchange]
	return t, ok
}

// pruneLocked drops expired entries for exchange. c.mu must be held.
func (c *Cache) pruneLocked(exchange string) []*Opportunity {
	list := c.entries[exchange]
	if len(list) == 0 {
		return list
	}

	cutoff := c.now().Add(-c.horizon)
	kept := list[:0]
	for _, o := range list {
		if o.DetectedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, o)
	}

	if dropped := len(list) - len(kept); dropped > 0 {
		clear(list[len(kept):])
		CacheEvictionsTotal.WithLabelValues(exchange, "age").Add(float64(dropped))
		CacheEntries.WithLabelValues(exchange).Set(float64(len(kept)))
	}

	c.entries[exchange] = kept
	return kept
}

func (c *Cache) dueLocked(exchange string) bool {
	last, ok := c.lastRefresh[exchange]
	return !ok || c.now().Sub(last) >= c.debounce
}

// refreshIfDue runs at most one successful refresh per exchange per debounce
// window. Callers arriving while a refresh is in flight wait for it instead of
// reading the list it is about to replace. A failed scan leaves the window open,
// so the next caller retries.
//
// The scan is shared, so it runs detached from any single caller's context and
// is bounded by refreshTimeout instead. A caller whose ctx ends stops waiting and
// reads whatever is cached.
func (c *Cache) refreshIfDue(ctx context.Context, exchange string) {
	c.mu.Lock()
	join := c.refreshing[exchange] || c.dueLocked(exchange)
	c.mu.Unlock()
	if !join {
		return
	}

	scanCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(exchange, func() (interface{}, error) {
		return nil, c.refresh(scanCtx, exchange)
	})

	select {
	case <-ch:
	case <-ctx.Done():
		c.logger.Debug("opportunity-refresh-wait-abandoned",
			zap.String("exchange", exchange),
			zap.Error(ctx.Err()))
	}
}

func (c *Cache) refresh(ctx context.Context, exchange string) error {
	c.mu.Lock()
	if !c.dueLocked(exchange) {
		c.mu.Unlock()
		return nil
	}
	c.refreshing[exchange] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.refreshing, exchange)
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	opps, err := c.refresher.Scan(ctx, exchange)
	if err != nil {
		CacheRefreshesTotal.WithLabelValues(exchange, "error").Inc()
		c.logger.Warn("opportunity-refresh-failed",
			zap.String("exchange", exchange),
			zap.Error(err))
		return err
	}

	c.Upsert(exchange, opps)

	c.mu.Lock()
	c.lastRefresh[exchange] = c.now()
	c.mu.Unlock()

	CacheRefreshesTotal.WithLabelValues(exchange, "success").Inc()
	c.logger.Debug("opportunity-cache-refreshed",
		zap.String("exchange", exchange),
		zap.Int("found", len(opps)))

	return nil
}
