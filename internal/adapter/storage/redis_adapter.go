package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

const (
	productKeyPrefix     = "catalog:product:"
	productListsKey      = "catalog:lists"
	catalogGenKey        = "catalog:gen"
	allCategoriesField   = "*"
	idempotencyKeyPrefix = "idem:order:"
	idempotencyPending   = "pending"
)

type RedisAdapter struct {
	client         *redis.Client
	catalogTTL     time.Duration
	idempotencyTTL time.Duration
}

func NewRedisAdapter(client *redis.Client, catalogTTL, idempotencyTTL time.Duration) *RedisAdapter {
	return &RedisAdapter{
		client:         client,
		catalogTTL:     catalogTTL,
		idempotencyTTL: idempotencyTTL,
	}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, idempotencyPending, r.idempotencyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) SaveIdempotentResult(ctx context.Context, key string, order domain.Order) error {
	b, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return r.client.Set(ctx, idempotencyKeyPrefix+key, b, r.idempotencyTTL).Err()
}

func (r *RedisAdapter) GetIdempotentResult(ctx context.Context, key string) (*domain.Order, error) {
	b, err := r.client.Get(ctx, idempotencyKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(b) == idempotencyPending {
		return nil, nil
	}

	var order domain.Order
	if err := json.Unmarshal(b, &order); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &order, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func productKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}

func listField(categorySlug string) string {
	if categorySlug == "" {
		return allCategoriesField
	}
	return categorySlug
}

func (r *RedisAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	b, err := r.client.Get(ctx, productKey(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p domain.Product
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("decode product: %w", err)
	}
	return &p, nil
}

func (r *RedisAdapter) CatalogGeneration(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, catalogGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// setIfGeneration runs write in a MULTI/EXEC guarded by WATCH on the generation
// key. A stale gen, or an invalidation racing the write, drops the write.
func (r *RedisAdapter) setIfGeneration(ctx context.Context, gen int64, write func(pipe redis.Pipeliner)) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, catalogGenKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, catalogGenKey)
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (r *RedisAdapter) SetProduct(ctx context.Context, gen int64, product domain.Product) error {
	b, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	return r.setIfGeneration(ctx, gen, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, productKey(product.ID), b, r.catalogTTL)
	})
}

func (r *RedisAdapter) GetProductList(ctx context.Context, categorySlug string) ([]domain.Product, bool, error) {
	b, err := r.client.HGet(ctx, productListsKey, listField(categorySlug)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal(b, &products); err != nil {
		return nil, false, fmt.Errorf("decode product list: %w", err)
	}
	return products, true, nil
}

// SetProductList stores a listing in the shared lists hash. The hash expires as
// a whole, so a fresh write also extends the older listings.
func (r *RedisAdapter) SetProductList(ctx context.Context, gen int64, categorySlug string, products []domain.Product) error {
	if products == nil {
		products = []domain.Product{}
	}
	b, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("encode product list: %w", err)
	}

	return r.setIfGeneration(ctx, gen, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, productListsKey, listField(categorySlug), b)
		if r.catalogTTL > 0 {
			pipe.Expire(ctx, productListsKey, r.catalogTTL)
		}
	})
}

func (r *RedisAdapter) InvalidateProducts(ctx context.Context, productIDs ...int64) error {
	keys := make([]string, 0, len(productIDs)+1)
	for _, id := range productIDs {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, productListsKey)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, catalogGenKey)
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}
