package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidProduct = errors.New("invalid product")

type Product struct {
	ID           int64
	Name         string
	Description  string
	CategorySlug string
	CategoryName string
	ImageURL     string
	Price        decimal.Decimal
	Stock        int
	Active       bool
	CreatedAt    time.Time
}

// Validate checks the invariants a product row must satisfy once decoded from storage.
func (p Product) Validate() error {
	switch {
	case p.ID <= 0:
		return fmt.Errorf("%w: id %d", ErrInvalidProduct, p.ID)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: product %d has negative price %s", ErrInvalidProduct, p.ID, p.Price)
	case p.Stock < 0:
		return fmt.Errorf("%w: product %d has negative stock %d", ErrInvalidProduct, p.ID, p.Stock)
	}
	return nil
}
