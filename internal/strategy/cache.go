package strategy

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"

	"flatfetch/internal/observability"
	"flatfetch/internal/schema"
)

type cacheKey struct {
	entity    reflect.Type
	attribute string
}

// Cache memoizes strategies per (entity type, attribute). Concurrent misses
// may build the same strategy more than once; only the first stored result
// is kept. Build failures are not cached and entries are never evicted.
type Cache struct {
	provider schema.Provider
	entries  sync.Map // cacheKey -> Strategy
	size     atomic.Int64
}

// NewCache creates an empty cache resolving metadata through provider.
func NewCache(provider schema.Provider) *Cache {
	return &Cache{provider: provider}
}

// GetOrBuild returns the cached strategy for entity's attribute, building
// it on first use.
func (c *Cache) GetOrBuild(ctx context.Context, entity *schema.Entity, attribute string) (Strategy, error) {
	key := cacheKey{entity: entity.Type, attribute: attribute}
	metrics := observability.FetchMetricsFromContext(ctx)
	if cached, ok := c.entries.Load(key); ok {
		metrics.RecordStrategyCache(ctx, true)
		return cached.(Strategy), nil
	}
	metrics.RecordStrategyCache(ctx, false)

	built, err := Build(ctx, c.provider, entity, attribute)
	if err != nil {
		return nil, err
	}
	actual, loaded := c.entries.LoadOrStore(key, built)
	if !loaded {
		c.size.Add(1)
	}
	return actual.(Strategy), nil
}

// Len returns the number of cached strategies.
func (c *Cache) Len() int {
	return int(c.size.Load())
}
