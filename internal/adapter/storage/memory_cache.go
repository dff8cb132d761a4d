package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

type cacheEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e cacheEntry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryCache is an in-process CacheRepository with the same key semantics as
// RedisAdapter. Expired entries are dropped lazily on access.
type MemoryCache struct {
	mu             sync.Mutex
	catalogTTL     time.Duration
	idempotencyTTL time.Duration
	now            func() time.Time
	generation     int64

	products    map[int64]cacheEntry[domain.Product]
	lists       map[string]cacheEntry[[]domain.Product]
	idempotency map[string]cacheEntry[*domain.Order]
}

func NewMemoryCache(catalogTTL, idempotencyTTL time.Duration) *MemoryCache {
	return &MemoryCache{
		catalogTTL:     catalogTTL,
		idempotencyTTL: idempotencyTTL,
		now:            time.Now,
		products:       make(map[int64]cacheEntry[domain.Product]),
		lists:          make(map[string]cacheEntry[[]domain.Product]),
		idempotency:    make(map[string]cacheEntry[*domain.Order]),
	}
}

func (c *MemoryCache) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.idempotency[key]; ok && !e.expired(c.now()) {
		return false, nil
	}
	c.idempotency[key] = cacheEntry[*domain.Order]{expiresAt: c.deadline(c.idempotencyTTL)}
	return true, nil
}

func (c *MemoryCache) SaveIdempotentResult(ctx context.Context, key string, order domain.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := cloneOrder(order)
	c.idempotency[key] = cacheEntry[*domain.Order]{value: &stored, expiresAt: c.deadline(c.idempotencyTTL)}
	return nil
}

func (c *MemoryCache) GetIdempotentResult(ctx context.Context, key string) (*domain.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.idempotency[key]
	if !ok || e.expired(c.now()) || e.value == nil {
		return nil, nil
	}
	out := cloneOrder(*e.value)
	return &out, nil
}

func (c *MemoryCache) ReleaseIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.idempotency, key)
	return nil
}

func (c *MemoryCache) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.products[productID]
	if !ok {
		return nil, nil
	}
	if e.expired(c.now()) {
		delete(c.products, productID)
		return nil, nil
	}
	p := e.value
	return &p, nil
}

func (c *MemoryCache) CatalogGeneration(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *MemoryCache) SetProduct(ctx context.Context, gen int64, product domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	c.products[product.ID] = cacheEntry[domain.Product]{value: product, expiresAt: c.deadline(c.catalogTTL)}
	return nil
}

func (c *MemoryCache) GetProductList(ctx context.Context, categorySlug string) ([]domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lists[categorySlug]
	if !ok {
		return nil, false, nil
	}
	if e.expired(c.now()) {
		delete(c.lists, categorySlug)
		return nil, false, nil
	}
	return append(make([]domain.Product, 0, len(e.value)), e.value...), true, nil
}

func (c *MemoryCache) SetProductList(ctx context.Context, gen int64, categorySlug string, products []domain.Product) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return nil
	}
	c.lists[categorySlug] = cacheEntry[[]domain.Product]{
		value:     append([]domain.Product(nil), products...),
		expiresAt: c.deadline(c.catalogTTL),
	}
	return nil
}

func (c *MemoryCache) InvalidateProducts(ctx context.Context, productIDs ...int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	for _, id := range productIDs {
		delete(c.products, id)
	}
	clear(c.lists)
	return nil
}
