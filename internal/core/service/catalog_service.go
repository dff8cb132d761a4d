package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/logging"
	"github.com/rl1809/pawfect-shop/internal/metrics"
	"github.com/rl1809/pawfect-shop/internal/port"
)

const catalogCache = "catalog"

// CatalogService serves product reads, cache-aside. The cache is never
// authoritative: any cache error falls through to the database.
type CatalogService struct {
	db      port.DatabaseRepository
	cache   port.CacheRepository
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type CatalogOption func(*CatalogService)

func WithCatalogLogger(logger *zap.Logger) CatalogOption {
	return func(s *CatalogService) { s.logger = logger }
}

func WithCatalogMetrics(m *metrics.Metrics) CatalogOption {
	return func(s *CatalogService) { s.metrics = m }
}

func NewCatalogService(db port.DatabaseRepository, cache port.CacheRepository, opts ...CatalogOption) *CatalogService {
	s := &CatalogService{db: db, cache: cache, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CatalogService) ListProducts(ctx context.Context, categorySlug string) ([]domain.Product, error) {
	logger := logging.FromContextOr(ctx, s.logger)

	products, ok, err := s.cache.GetProductList(ctx, categorySlug)
	switch {
	case err != nil:
		s.metrics.CacheResult(catalogCache, "error")
		logger.Warn("catalog_cache_read_failed", zap.String("category", categorySlug), zap.Error(err))
	case ok:
		s.metrics.CacheResult(catalogCache, "hit")
		return products, nil
	default:
		s.metrics.CacheResult(catalogCache, "miss")
	}

	gen, genErr := s.cache.CatalogGeneration(ctx)
	products, err = s.db.ListProducts(ctx, categorySlug)
	if err != nil {
		return nil, fmt.Errorf("%w: list products: %w", ErrStoreFault, err)
	}

	if genErr != nil {
		logger.Warn("catalog_cache_write_skipped", zap.String("category", categorySlug), zap.Error(genErr))
		return products, nil
	}
	if err := s.cache.SetProductList(ctx, gen, categorySlug, products); err != nil {
		logger.Warn("catalog_cache_write_failed", zap.String("category", categorySlug), zap.Error(err))
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	if productID <= 0 {
		return domain.Product{}, ErrInvalidProductID
	}
	logger := logging.FromContextOr(ctx, s.logger).With(zap.Int64("product_id", productID))

	cached, err := s.cache.GetProduct(ctx, productID)
	switch {
	case err != nil:
		s.metrics.CacheResult(catalogCache, "error")
		logger.Warn("catalog_cache_read_failed", zap.Error(err))
	case cached != nil:
		s.metrics.CacheResult(catalogCache, "hit")
		return *cached, nil
	default:
		s.metrics.CacheResult(catalogCache, "miss")
	}

	// Read before the database so an invalidation landing in between
	// makes the cache write below a no-op.
	gen, genErr := s.cache.CatalogGeneration(ctx)
	product, err := s.db.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("%w: get product: %w", ErrStoreFault, err)
	}
	if product == nil {
		return domain.Product{}, ErrProductNotFound
	}

	if genErr != nil {
		logger.Warn("catalog_cache_write_skipped", zap.Error(genErr))
		return *product, nil
	}
	if err := s.cache.SetProduct(ctx, gen, *product); err != nil {
		logger.Warn("catalog_cache_write_failed", zap.Error(err))
	}
	return *product, nil
}
