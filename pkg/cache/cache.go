package cache

import "time"

// Cache is a TTL key/value store shared by the market data layer.
type Cache interface {
	// Get returns (value, true) on a hit and (nil, false) on a miss.
	Get(key string) (any, bool)

	// Set stores value under key until ttl elapses. It may be dropped by admission policy.
	Set(key string, value any, ttl time.Duration) bool

	Delete(key string)

	// Wait blocks until buffered writes are visible to Get.
	Wait()

	Close()
}

// CostFunc prices a value against the cache's MaxCost budget.
type CostFunc func(value any) int64

// UnitCost charges every value 1, so MaxCost counts items.
func UnitCost(any) int64 { return 1 }

// GetAs looks key up and asserts the stored value to T.
// A value of the wrong type counts as a miss.
func GetAs[T any](c Cache, key string) (T, bool) {
	var zero T

	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}

	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}

	return typed, true
}
