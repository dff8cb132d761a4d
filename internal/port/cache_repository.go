package port

import (
	"context"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

type CacheRepository interface {
	// SetIdempotency claims a key for an in-flight request, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// SaveIdempotentResult stores the order produced under a claimed key
	SaveIdempotentResult(ctx context.Context, key string, order domain.Order) error

	// GetIdempotentResult returns the stored order, or nil while the request is still in flight
	GetIdempotentResult(ctx context.Context, key string) (*domain.Order, error)

	// ReleaseIdempotency frees a key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// CatalogGeneration returns the invalidation counter. Read it before loading
	// from the database and pass it to SetProduct/SetProductList.
	CatalogGeneration(ctx context.Context) (int64, error)

	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// SetProduct stores the product only if no invalidation happened since gen was read
	SetProduct(ctx context.Context, gen int64, product domain.Product) error

	// GetProductList returns ok=false on a cache miss
	GetProductList(ctx context.Context, categorySlug string) (products []domain.Product, ok bool, err error)

	// SetProductList stores the listing only if no invalidation happened since gen was read
	SetProductList(ctx context.Context, gen int64, categorySlug string, products []domain.Product) error

	// InvalidateProducts bumps the generation, then drops the given products and every cached listing
	InvalidateProducts(ctx context.Context, productIDs ...int64) error
}
