package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one requested (product, quantity) pair of an order request.
type LineItem struct {
	ProductID int64
	Quantity  int
}

// Valid reports whether the line item can take part in an order.
// Invalid line items are dropped from the request, they never fail it.
func (li LineItem) Valid() bool {
	return li.ProductID > 0 && li.Quantity > 0
}

type OrderRequest struct {
	CustomerID     int64
	Items          []LineItem
	IdempotencyKey string
}

type Order struct {
	ID         int64
	CustomerID int64
	Total      decimal.Decimal
	Items      []OrderItem
	CreatedAt  time.Time
}

// OrderItem keeps the unit price the product had when the order was placed.
type OrderItem struct {
	OrderID     int64
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ComputeTotal sums the subtotals of all items.
func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// PlacedOrder is the outcome of a successful placement. Replayed is set when the
// order was returned from a previous request carrying the same idempotency key.
type PlacedOrder struct {
	Order
	Replayed bool
}
