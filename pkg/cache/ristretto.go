package cache

import (
	"cmp"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache is a Cache backed by Ristretto.
type RistrettoCache struct {
	name   string
	store  *ristretto.Cache
	cost   CostFunc
	logger *zap.Logger
}

// RistrettoConfig holds configuration for Ristretto cache.
type RistrettoConfig struct {
	Name        string   // metrics label
	NumCounters int64    // keys tracked for admission, ~10x the expected item count
	MaxCost     int64    // budget in Cost units
	Cost        CostFunc // nil means UnitCost
	BufferItems int64
	Logger      *zap.Logger
}

// NewRistrettoCache creates a new Ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	if cfg == nil || cfg.Logger == nil {
		return nil, errors.New("ristretto config requires a logger")
	}

	name := cmp.Or(cfg.Name, "default")
	cost := cfg.Cost
	if cost == nil {
		cost = UnitCost
	}

	// Costs are entry counts; ristretto's per-item byte overhead would dwarf them.
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cmp.Or(cfg.BufferItems, 64),
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s cache: %w", name, err)
	}

	return &RistrettoCache{
		name:   name,
		store:  store,
		cost:   cost,
		logger: cfg.Logger.With(zap.String("cache", name)),
	}, nil
}

// Get implements Cache.
func (r *RistrettoCache) Get(key string) (any, bool) {
	value, found := r.store.Get(key)
	if !found {
		CacheMissesTotal.WithLabelValues(r.name).Inc()
		return nil, false
	}
	CacheHitsTotal.WithLabelValues(r.name).Inc()
	return value, true
}

// Set implements Cache. A rejected write is counted and logged at debug;
// callers fall back to the upstream on the next Get.
func (r *RistrettoCache) Set(key string, value any, ttl time.Duration) bool {
	cost := r.cost(value)
	if !r.store.SetWithTTL(key, value, cost, ttl) {
		CacheRejectedSetsTotal.WithLabelValues(r.name).Inc()
		r.logger.Debug("cache-set-rejected",
			zap.String("key", key),
			zap.Int64("cost", cost))
		return false
	}

	CacheSetsTotal.WithLabelValues(r.name).Inc()
	CacheCostAdded.WithLabelValues(r.name).Add(float64(cost))
	return true
}

// Delete implements Cache.
func (r *RistrettoCache) Delete(key string) {
	r.store.Del(key)
}

// Wait implements Cache.
func (r *RistrettoCache) Wait() {
	r.store.Wait()
}

// Close stops ristretto's background goroutines. The cache is unusable afterwards.
func (r *RistrettoCache) Close() {
	r.store.Close()
}
