package catalog

import (
	"context"
	"time"

	"catering-service/internal/util"

	"go.uber.org/zap"
)

// Cache is a TTL key/value store for JSON documents
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Cached puts a TTL cache in front of a catalog. Cache failures fall
// through to the underlying catalog; misses are not cached.
type Cached struct {
	next   ProductCatalog
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCached(next ProductCatalog, cache Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, logger: util.Logger("catalog")}
}

// FindByID implements ProductCatalog
func (c *Cached) FindByID(ctx context.Context, id string) (*Product, error) {
	key := "catalog:product:" + id

	var cached Product
	hit, err := c.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.Warn("Catalog cache read failed", zap.String("product_id", id), zap.Error(err))
	} else if hit {
		return &cached, nil
	}

	product, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, key, product, c.ttl); err != nil {
		c.logger.Warn("Catalog cache write failed", zap.String("product_id", id), zap.Error(err))
	}
	return product, nil
}
