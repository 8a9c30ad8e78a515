package services

import (
	"slices"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ApplicableMethodsCache memoises resolver results per currency and storefront set.
// A nil cache is valid and caches nothing.
//
// Every Flush starts a new generation. Results read from the store under an older generation are
// dropped by set, so a read racing a write cannot repopulate the cache with pre-write methods.
type ApplicableMethodsCache struct {
	store *gocache.Cache

	mu         sync.RWMutex
	generation uint64
}

// NewApplicableMethodsCache returns a cache holding entries for ttl. A non-positive ttl disables caching.
func NewApplicableMethodsCache(ttl time.Duration) *ApplicableMethodsCache {
	if ttl <= 0 {
		return nil
	}
	return &ApplicableMethodsCache{store: gocache.New(ttl, 2*ttl)}
}

// get returns the cached methods, if any, and the generation the caller must hand back to set.
func (c *ApplicableMethodsCache) get(currency string, storefronts []string) ([]ShippingMethod, uint64, bool) {
	if c == nil {
		return nil, 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.store.Get(applicableCacheKey(currency, storefronts))
	if !ok {
		return nil, c.generation, false
	}
	methods, ok := value.([]ShippingMethod)
	if !ok {
		return nil, c.generation, false
	}
	return slices.Clone(methods), c.generation, true
}

func (c *ApplicableMethodsCache) set(generation uint64, currency string, storefronts []string, methods []ShippingMethod) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if generation != c.generation {
		return false
	}
	c.store.SetDefault(applicableCacheKey(currency, storefronts), slices.Clone(methods))
	return true
}

// Flush drops every cached entry.
func (c *ApplicableMethodsCache) Flush() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.store.Flush()
}

// Len reports the number of live entries.
func (c *ApplicableMethodsCache) Len() int {
	if c == nil {
		return 0
	}
	return c.store.ItemCount()
}

func applicableCacheKey(currency string, storefronts []string) string {
	sorted := slices.Clone(storefronts)
	slices.Sort(sorted)
	return currency + "|" + strings.Join(sorted, ",")
}
