package messaging

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

const (
	EventOrderPlaced   = "OrderPlaced"
	orderPlacedVersion = 1
)

type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Producer     string          `json:"producer"`
	TraceID      string          `json:"trace_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

type OrderPlacedItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

// OrderPlacedPayload carries money as fixed two-decimal strings.
type OrderPlacedPayload struct {
	OrderID    int64             `json:"order_id"`
	CustomerID int64             `json:"customer_id"`
	Total      string            `json:"total"`
	Items      []OrderPlacedItem `json:"items"`
	PlacedAt   time.Time         `json:"placed_at"`
}

func orderPlacedPayload(order domain.Order) OrderPlacedPayload {
	items := make([]OrderPlacedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderPlacedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	return OrderPlacedPayload{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Total:      order.Total.StringFixed(2),
		Items:      items,
		PlacedAt:   order.CreatedAt,
	}
}

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderID int64) []byte {
	return []byte("order:" + strconv.FormatInt(orderID, 10))
}
