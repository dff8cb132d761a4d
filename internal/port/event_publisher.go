package port

import (
	"context"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

type EventPublisher interface {
	// PublishOrderPlaced announces a committed order. Delivery is best effort.
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
}
