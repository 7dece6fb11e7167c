// Package cache met les lectures catalogue en cache Redis devant ScyllaDB.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"cedra_fulfillment/internal/checkout"
	"cedra_fulfillment/internal/models"
)

const ProductCacheTTL = 10 * time.Minute

// CatalogCache : cache-aside devant un PriceCatalog, un seul appel concurrent par produit manquant
type CatalogCache struct {
	rdb   redis.Cmdable
	next  checkout.PriceCatalog
	ttl   time.Duration
	group singleflight.Group
}

func NewCatalogCache(rdb redis.Cmdable, next checkout.PriceCatalog, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = ProductCacheTTL
	}
	return &CatalogCache{rdb: rdb, next: next, ttl: ttl}
}

func productKey(productRef string) string {
	return "product_price:" + productRef
}

func (c *CatalogCache) Lookup(ctx context.Context, productRef string) (models.CatalogProduct, error) {
	// 1. Essayer le cache Redis
	data, err := c.rdb.Get(ctx, productKey(productRef)).Bytes()
	if err == nil {
		var p models.CatalogProduct
		if json.Unmarshal(data, &p) == nil {
			return p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("⚠️ Cache produit indisponible: %v", err)
	}

	// 2. Récupérer depuis le catalogue
	v, err, _ := c.group.Do(productRef, func() (interface{}, error) {
		p, err := c.next.Lookup(ctx, productRef)
		if err != nil {
			return nil, err
		}
		// 3. Mettre en cache
		if raw, err := json.Marshal(p); err == nil {
			if err := c.rdb.Set(ctx, productKey(productRef), raw, c.ttl).Err(); err != nil {
				log.Printf("⚠️ Mise en cache produit %s impossible: %v", productRef, err)
			}
		}
		return p, nil
	})
	if err != nil {
		return models.CatalogProduct{}, err
	}
	return v.(models.CatalogProduct), nil
}

// Invalidate invalide le cache d'un produit (changement de prix)
func (c *CatalogCache) Invalidate(ctx context.Context, productRef string) error {
	return c.rdb.Del(ctx, productKey(productRef)).Err()
}
