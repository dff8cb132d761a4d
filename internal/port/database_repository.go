package port

import (
	"context"
	"errors"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

var (
	// ErrStockConflict is returned when a conditional stock decrement matched no row.
	ErrStockConflict = errors.New("stock conflict")
	// ErrDuplicateEmail is returned when the newsletter already holds the address.
	ErrDuplicateEmail = errors.New("duplicate email")
)

// Tx is the set of statements an order placement runs inside one transaction.
type Tx interface {
	// LockProduct reads an active product and locks its row until the transaction ends.
	// It returns nil, nil when the product does not exist or is inactive.
	LockProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// InsertOrder persists the order header and returns the assigned id.
	InsertOrder(ctx context.Context, order domain.Order) (int64, error)

	InsertOrderItem(ctx context.Context, item domain.OrderItem) error

	// DecrementStock lowers stock, returning ErrStockConflict if it would go negative.
	DecrementStock(ctx context.Context, productID int64, quantity int) error
}

type DatabaseRepository interface {
	// InTx runs fn in a transaction, committing when fn returns nil and rolling
	// back otherwise. The error returned by fn is passed through unchanged.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetProduct returns an active product, or nil, nil when there is none.
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	// ListProducts returns active products ordered by id, optionally filtered by category slug.
	ListProducts(ctx context.Context, categorySlug string) ([]domain.Product, error)

	AddNewsletterSubscriber(ctx context.Context, email string) error

	Ping(ctx context.Context) error
}
