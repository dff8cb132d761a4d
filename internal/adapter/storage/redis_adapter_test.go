package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisIdempotency_ClaimOnce(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute, time.Minute)

	key := "test:claim-once"
	client.Del(ctx, idempotencyKeyPrefix+key)
	t.Cleanup(func() { client.Del(ctx, idempotencyKeyPrefix+key) })

	var wg sync.WaitGroup
	var claimed atomic.Int32
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, key)
			if err == nil && ok {
				claimed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed.Load())

	pending, err := adapter.GetIdempotentResult(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, pending, "an in-flight claim has no result yet")
}

func TestRedisIdempotency_SaveAndRelease(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute, time.Minute)

	key := "test:save-release"
	client.Del(ctx, idempotencyKeyPrefix+key)
	t.Cleanup(func() { client.Del(ctx, idempotencyKeyPrefix+key) })

	ok, err := adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	order := domain.Order{
		ID:         42,
		CustomerID: 1,
		Total:      decimal.RequireFromString("39.80"),
		Items: []domain.OrderItem{
			{OrderID: 42, ProductID: 5, ProductName: "Leash", Quantity: 2, UnitPrice: decimal.RequireFromString("19.90")},
		},
	}
	require.NoError(t, adapter.SaveIdempotentResult(ctx, key, order))

	got, err := adapter.GetIdempotentResult(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ID)
	assert.True(t, got.Total.Equal(order.Total))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Leash", got.Items[0].ProductName)

	require.NoError(t, adapter.ReleaseIdempotency(ctx, key))
	ok, err = adapter.SetIdempotency(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "released key can be claimed again")
}

func TestRedisCatalog_ProductAndLists(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute, time.Minute)

	const id = 990001
	client.Del(ctx, productKey(id), productListsKey)
	t.Cleanup(func() { client.Del(ctx, productKey(id), productListsKey) })

	miss, err := adapter.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, miss)

	p := domain.Product{ID: id, Name: "Leash", Price: decimal.RequireFromString("19.90"), Stock: 3, Active: true, CategorySlug: "passeio"}
	gen, err := adapter.CatalogGeneration(ctx)
	require.NoError(t, err)
	require.NoError(t, adapter.SetProduct(ctx, gen, p))
	require.NoError(t, adapter.SetProductList(ctx, gen, "", []domain.Product{p}))
	require.NoError(t, adapter.SetProductList(ctx, gen, "passeio", nil))

	got, err := adapter.GetProduct(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Leash", got.Name)
	assert.True(t, got.Price.Equal(p.Price))

	all, ok, err := adapter.GetProductList(ctx, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, all, 1)

	empty, ok, err := adapter.GetProductList(ctx, "passeio")
	require.NoError(t, err)
	assert.True(t, ok, "an empty listing is still a hit")
	assert.Empty(t, empty)

	require.NoError(t, adapter.InvalidateProducts(ctx, id))

	got, err = adapter.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, ok, err = adapter.GetProductList(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCatalog_StaleGenerationIsDropped(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute, time.Minute)

	const id = 990002
	client.Del(ctx, productKey(id), productListsKey)
	t.Cleanup(func() { client.Del(ctx, productKey(id), productListsKey) })

	gen, err := adapter.CatalogGeneration(ctx)
	require.NoError(t, err)

	require.NoError(t, adapter.InvalidateProducts(ctx, id))

	p := domain.Product{ID: id, Name: "Leash", Price: decimal.RequireFromString("19.90"), Stock: 3, Active: true}
	require.NoError(t, adapter.SetProduct(ctx, gen, p))
	require.NoError(t, adapter.SetProductList(ctx, gen, "", []domain.Product{p}))

	got, err := adapter.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got, "write read before the invalidation must not land")
	_, ok, err := adapter.GetProductList(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := adapter.CatalogGeneration(ctx)
	require.NoError(t, err)
	assert.Greater(t, fresh, gen)

	require.NoError(t, adapter.SetProduct(ctx, fresh, p))
	got, err = adapter.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got)
}
