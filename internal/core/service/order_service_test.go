package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/pawfect-shop/internal/adapter/storage"
	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/metrics"
	"github.com/rl1809/pawfect-shop/internal/port"
)

const leashID = 5

func leash(stock int) domain.Product {
	return domain.Product{
		ID:           leashID,
		Name:         "Leash",
		Price:        decimal.RequireFromString("19.90"),
		Stock:        stock,
		Active:       true,
		CategorySlug: "passeio",
	}
}

func collar(stock int) domain.Product {
	return domain.Product{ID: 6, Name: "Collar", Price: decimal.RequireFromString("35.00"), Stock: stock, Active: true}
}

func items(pairs ...int) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.LineItem{ProductID: int64(pairs[i]), Quantity: pairs[i+1]})
	}
	return out
}

func newTestOrderService(t *testing.T, db port.DatabaseRepository, opts ...OrderOption) (*OrderService, *storage.MemoryCache) {
	cache := storage.NewMemoryCache(time.Minute, time.Minute)
	opts = append([]OrderOption{WithOrderLogger(zaptest.NewLogger(t))}, opts...)
	return NewOrderService(db, cache, opts...), cache
}

func stockOf(t *testing.T, db *storage.MemoryAdapter, id int64) int {
	for _, p := range db.Products() {
		if p.ID == id {
			return p.Stock
		}
	}
	t.Fatalf("product %d not in store", id)
	return 0
}

// Tx decorator failing DecrementStock.
type faultyDB struct {
	*storage.MemoryAdapter
	decrementErr error
}

func (f *faultyDB) InTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	return f.MemoryAdapter.InTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return fn(ctx, faultyTx{Tx: tx, decrementErr: f.decrementErr})
	})
}

type faultyTx struct {
	port.Tx
	decrementErr error
}

func (t faultyTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	return t.decrementErr
}

type countingDB struct {
	port.DatabaseRepository
	calls atomic.Int32
}

func (c *countingDB) InTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	c.calls.Add(1)
	return c.DatabaseRepository.InTx(ctx, fn)
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []domain.Order
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
	return p.err
}

func TestPlaceOrder_Success(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)

	placed, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 2)})
	require.NoError(t, err)

	assert.Positive(t, placed.ID)
	assert.False(t, placed.Replayed)
	assert.Equal(t, "39.80", placed.Total.StringFixed(2))
	assert.Equal(t, "R$ 39,80", domain.FormatBRL(placed.Total))
	assert.Equal(t, 1, stockOf(t, db, leashID))

	orders := db.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1), orders[0].CustomerID)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, 2, orders[0].Items[0].Quantity)
	assert.True(t, orders[0].Items[0].UnitPrice.Equal(decimal.RequireFromString("19.90")))
	assert.True(t, orders[0].Total.Equal(orders[0].ComputeTotal()))
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 5)})
	require.ErrorIs(t, err, ErrInsufficientStock)

	var oe *OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "Leash", oe.ProductName)
	assert.Equal(t, 3, stockOf(t, db, leashID))
	assert.Empty(t, db.Orders())
}

func TestPlaceOrder_ProductNotFound(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(999, 1)})
	require.ErrorIs(t, err, ErrProductNotFound)

	var oe *OrderError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, int64(999), oe.ProductID)
	assert.Empty(t, db.Orders())
}

func TestPlaceOrder_InactiveProductIsNotFound(t *testing.T) {
	p := leash(3)
	p.Active = false
	db := storage.NewMemoryAdapter(p)
	svc, _ := newTestOrderService(t, db)

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, 3, stockOf(t, db, leashID))
}

func TestPlaceOrder_LaterFailureRollsBackEarlierLines(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3), collar(1))
	svc, _ := newTestOrderService(t, db)

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1, 6, 2)})
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 3, stockOf(t, db, leashID))
	assert.Equal(t, 1, stockOf(t, db, 6))
	assert.Empty(t, db.Orders())
}

func TestPlaceOrder_InvalidRequestTouchesNoStore(t *testing.T) {
	tests := []struct {
		name string
		req  domain.OrderRequest
	}{
		{name: "missing customer", req: domain.OrderRequest{Items: items(leashID, 1)}},
		{name: "negative customer", req: domain.OrderRequest{CustomerID: -4, Items: items(leashID, 1)}},
		{name: "no items", req: domain.OrderRequest{CustomerID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &countingDB{DatabaseRepository: storage.NewMemoryAdapter(leash(3))}
			svc, _ := newTestOrderService(t, db)

			_, err := svc.PlaceOrder(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
			assert.Zero(t, db.calls.Load())
		})
	}
}

func TestPlaceOrder_SkipsMalformedLines(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)

	placed, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{
		CustomerID: 1,
		Items:      items(leashID, 1, 0, 4, leashID, 0, leashID, -2),
	})
	require.NoError(t, err)

	require.Len(t, placed.Items, 1)
	assert.Equal(t, "19.90", placed.Total.StringFixed(2))
	assert.Equal(t, 2, stockOf(t, db, leashID))
}

func TestPlaceOrder_OnlyMalformedLinesCreatesEmptyOrder(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)

	placed, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(0, 1, leashID, 0)})
	require.NoError(t, err)

	assert.Positive(t, placed.ID)
	assert.Empty(t, placed.Items)
	assert.True(t, placed.Total.IsZero())
	assert.Equal(t, 3, stockOf(t, db, leashID))
	assert.Len(t, db.Orders(), 1)
}

func TestPlaceOrder_RepeatedProductCountsCumulatively(t *testing.T) {
	t.Run("over stock", func(t *testing.T) {
		db := storage.NewMemoryAdapter(leash(3))
		svc, _ := newTestOrderService(t, db)

		_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 2, leashID, 2)})
		assert.ErrorIs(t, err, ErrInsufficientStock)
		assert.Equal(t, 3, stockOf(t, db, leashID))
	})

	t.Run("within stock", func(t *testing.T) {
		db := storage.NewMemoryAdapter(leash(3))
		svc, _ := newTestOrderService(t, db)

		placed, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1, leashID, 2)})
		require.NoError(t, err)
		assert.Len(t, placed.Items, 2)
		assert.Equal(t, "59.70", placed.Total.StringFixed(2))
		assert.Equal(t, 0, stockOf(t, db, leashID))
	})
}

func TestPlaceOrder_StoreFaultRollsBack(t *testing.T) {
	mem := storage.NewMemoryAdapter(leash(3))
	db := &faultyDB{MemoryAdapter: mem, decrementErr: errors.New("connection reset")}
	svc, _ := newTestOrderService(t, db)

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	require.ErrorIs(t, err, ErrStoreFault)
	assert.ErrorContains(t, err, "connection reset")

	assert.Equal(t, 3, stockOf(t, mem, leashID))
	assert.Empty(t, mem.Orders())
}

func TestPlaceOrder_CancelledContextIsStoreFault(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.PlaceOrder(ctx, domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	assert.ErrorIs(t, err, ErrStoreFault)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, stockOf(t, db, leashID))
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(1))
	svc, _ := newTestOrderService(t, db)

	var wg sync.WaitGroup
	var success, soldOut, other atomic.Int32

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(customer int64) {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: customer, Items: items(leashID, 1)})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				soldOut.Add(1)
			default:
				other.Add(1)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(19), soldOut.Load())
	assert.Zero(t, other.Load())
	assert.Equal(t, 0, stockOf(t, db, leashID))
	assert.Len(t, db.Orders(), 1)
}

func TestPlaceOrder_IdempotentReplay(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db)
	req := domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1), IdempotencyKey: "checkout-1"}

	first, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.Total.Equal(second.Total))
	assert.Equal(t, 2, stockOf(t, db, leashID))
	assert.Len(t, db.Orders(), 1)

	other := req
	other.CustomerID = 2
	third, err := svc.PlaceOrder(context.Background(), other)
	require.NoError(t, err)
	assert.False(t, third.Replayed, "keys are scoped per customer")
	assert.Len(t, db.Orders(), 2)
}

func TestPlaceOrder_DuplicateInFlight(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	svc, cache := newTestOrderService(t, db)

	claimed, err := cache.SetIdempotency(context.Background(), "1:checkout-1")
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1), IdempotencyKey: "checkout-1"})
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Empty(t, db.Orders())
}

func TestPlaceOrder_FailureReleasesIdempotencyKey(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(0))
	svc, _ := newTestOrderService(t, db)
	req := domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1), IdempotencyKey: "checkout-1"}

	_, err := svc.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, ErrInsufficientStock)

	db.PutProduct(leash(2))
	placed, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, placed.Replayed)
	assert.Equal(t, 1, stockOf(t, db, leashID))
}

// unsavedResultCache cannot store idempotent results.
type unsavedResultCache struct {
	*storage.MemoryCache
}

func (unsavedResultCache) SaveIdempotentResult(context.Context, string, domain.Order) error {
	return errors.New("redis: connection reset")
}

func TestPlaceOrder_UnsavedResultReleasesIdempotencyKey(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	cache := unsavedResultCache{MemoryCache: storage.NewMemoryCache(time.Minute, time.Minute)}
	svc := NewOrderService(db, cache, WithOrderLogger(zaptest.NewLogger(t)))
	req := domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1), IdempotencyKey: "checkout-1"}

	_, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	again, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err, "retry must not be rejected as a duplicate")
	assert.False(t, again.Replayed)
	assert.Len(t, db.Orders(), 2)
	assert.Equal(t, 1, stockOf(t, db, leashID))
}

func TestPlaceOrder_FailuresLeaveStoreUntouched(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3), collar(1))
	svc, _ := newTestOrderService(t, db)

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 2)})
	require.NoError(t, err)
	products, orders := db.Products(), db.Orders()

	_, err = svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 2, Items: items(leashID, 1, 6, 5)})
	require.ErrorIs(t, err, ErrInsufficientStock)
	_, err = svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 2, Items: items(6, 1, 999, 1)})
	require.ErrorIs(t, err, ErrProductNotFound)

	assert.Equal(t, products, db.Products())
	assert.Equal(t, orders, db.Orders())
}

func TestPlaceOrder_InvalidatesCatalogCache(t *testing.T) {
	ctx := context.Background()
	db := storage.NewMemoryAdapter(leash(3))
	svc, cache := newTestOrderService(t, db)

	require.NoError(t, cache.SetProduct(ctx, 0, leash(3)))
	require.NoError(t, cache.SetProductList(ctx, 0, "", []domain.Product{leash(3)}))

	_, err := svc.PlaceOrder(ctx, domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	require.NoError(t, err)

	cached, err := cache.GetProduct(ctx, leashID)
	require.NoError(t, err)
	assert.Nil(t, cached)
	_, ok, err := cache.GetProductList(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaceOrder_PublishesEvent(t *testing.T) {
	db := storage.NewMemoryAdapter(leash(3))
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _ := newTestOrderService(t, db, WithEventPublisher(pub))

	placed, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	require.NoError(t, err, "publish failures never fail a committed order")

	require.Len(t, pub.orders, 1)
	assert.Equal(t, placed.ID, pub.orders[0].ID)

	_, err = svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 9)})
	require.Error(t, err)
	assert.Len(t, pub.orders, 1, "failed placements publish nothing")
}

func TestPlaceOrder_RecordsOutcomeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	db := storage.NewMemoryAdapter(leash(1))
	svc, _ := newTestOrderService(t, db, WithOrderMetrics(m))

	_, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	require.ErrorIs(t, err, ErrInsufficientStock)
	_, err = svc.PlaceOrder(context.Background(), domain.OrderRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderPlacements.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderPlacements.WithLabelValues("insufficient_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderPlacements.WithLabelValues("invalid_request")))
}

func TestPlaceOrder_UsesClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	db := storage.NewMemoryAdapter(leash(3))
	svc, _ := newTestOrderService(t, db, WithClock(func() time.Time { return fixed }))

	placed, err := svc.PlaceOrder(context.Background(), domain.OrderRequest{CustomerID: 1, Items: items(leashID, 1)})
	require.NoError(t, err)
	assert.Equal(t, fixed, placed.CreatedAt)
	assert.Equal(t, fixed, db.Orders()[0].CreatedAt)
}
