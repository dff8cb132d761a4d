package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
	"github.com/rl1809/pawfect-shop/internal/port"
)

// MemoryAdapter is an in-process DatabaseRepository. Transactions are serialised
// and work on a private copy of the state that replaces the committed state only
// on success, so readers never observe uncommitted writes.
type MemoryAdapter struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	state       memoryState
	subscribers map[string]struct{}
}

type memoryState struct {
	products    map[int64]domain.Product
	orders      map[int64]domain.Order
	nextOrderID int64
}

func NewMemoryAdapter(products ...domain.Product) *MemoryAdapter {
	m := &MemoryAdapter{
		state: memoryState{
			products: make(map[int64]domain.Product),
			orders:   make(map[int64]domain.Order),
		},
		subscribers: make(map[string]struct{}),
	}
	for _, p := range products {
		m.state.products[p.ID] = p
	}
	return m
}

// PutProduct inserts or replaces a catalog product. It waits for any open
// transaction so the commit cannot overwrite it.
func (m *MemoryAdapter) PutProduct(p domain.Product) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

// Products returns every product, active or not, ordered by id.
func (m *MemoryAdapter) Products() []domain.Product {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Product, 0, len(m.state.products))
	for _, p := range m.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Orders returns the committed orders with their items, ordered by id.
func (m *MemoryAdapter) Orders() []domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Order, 0, len(m.state.orders))
	for _, o := range m.state.orders {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryAdapter) InTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(ctx, &memoryTx{state: &work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *MemoryAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.state.products[productID]
	if !ok || !p.Active {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryAdapter) ListProducts(ctx context.Context, categorySlug string) ([]domain.Product, error) {
	out := make([]domain.Product, 0)
	for _, p := range m.Products() {
		if !p.Active {
			continue
		}
		if categorySlug != "" && p.CategorySlug != categorySlug {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *MemoryAdapter) AddNewsletterSubscriber(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Mirrors the case-insensitive unique index of the MySQL schema.
	key := strings.ToLower(email)
	if _, ok := m.subscribers[key]; ok {
		return port.ErrDuplicateEmail
	}
	m.subscribers[key] = struct{}{}
	return nil
}

func (m *MemoryAdapter) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) LockProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.state.products[productID]
	if !ok || !p.Active {
		return nil, nil
	}
	return &p, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, order domain.Order) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.state.nextOrderID++
	order.ID = t.state.nextOrderID
	order.Items = nil
	t.state.orders[order.ID] = order
	return order.ID, nil
}

func (t *memoryTx) InsertOrderItem(ctx context.Context, item domain.OrderItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order, ok := t.state.orders[item.OrderID]
	if !ok {
		return fmt.Errorf("insert order item: order %d does not exist", item.OrderID)
	}
	if _, ok := t.state.products[item.ProductID]; !ok {
		return fmt.Errorf("insert order item: product %d does not exist", item.ProductID)
	}
	order.Items = append(order.Items, item)
	t.state.orders[item.OrderID] = order
	return nil
}

func (t *memoryTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, ok := t.state.products[productID]
	if !ok || p.Stock < quantity {
		return port.ErrStockConflict
	}
	p.Stock -= quantity
	t.state.products[productID] = p
	return nil
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		products:    make(map[int64]domain.Product, len(s.products)),
		orders:      make(map[int64]domain.Order, len(s.orders)),
		nextOrderID: s.nextOrderID,
	}
	for id, p := range s.products {
		c.products[id] = p
	}
	for id, o := range s.orders {
		c.orders[id] = cloneOrder(o)
	}
	return c
}

func cloneOrder(o domain.Order) domain.Order {
	if o.Items != nil {
		o.Items = append([]domain.OrderItem(nil), o.Items...)
	}
	return o
}
