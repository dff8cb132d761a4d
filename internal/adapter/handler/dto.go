package handler

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

// flexInt decodes a JSON value into an integer the way loosely typed clients
// send ids: numbers are truncated, numeric strings are parsed, true is 1 and
// anything else is 0. Validation of the value happens downstream.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	switch x := v.(type) {
	case json.Number:
		*n = flexInt(parseNumber(string(x)))
	case string:
		*n = flexInt(parseNumber(strings.TrimSpace(x)))
	case bool:
		*n = 0
		if x {
			*n = 1
		}
	default:
		*n = 0
	}
	return nil
}

func parseNumber(s string) int64 {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

type orderItemRequest struct {
	ProductID flexInt `json:"produto_id"`
	Quantity  flexInt `json:"quantidade"`
}

type createOrderRequest struct {
	CustomerID flexInt            `json:"cliente_id"`
	Items      []orderItemRequest `json:"itens"`
}

func (r createOrderRequest) toDomain(idempotencyKey string) domain.OrderRequest {
	items := make([]domain.LineItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, domain.LineItem{ProductID: int64(item.ProductID), Quantity: int(item.Quantity)})
	}
	return domain.OrderRequest{
		CustomerID:     int64(r.CustomerID),
		Items:          items,
		IdempotencyKey: idempotencyKey,
	}
}

type createOrderResponse struct {
	Message string `json:"mensagem"`
	OrderID int64  `json:"pedido_id"`
	Total   string `json:"total"`
}

type newsletterRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"mensagem"`
}

type errorResponse struct {
	Error string `json:"erro"`
}

type productResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"nome"`
	Description    string    `json:"descricao"`
	Price          string    `json:"preco"`
	PriceFormatted string    `json:"preco_formatado"`
	Stock          int       `json:"estoque"`
	ImageURL       string    `json:"imagem_url"`
	CategorySlug   string    `json:"categoria_slug"`
	CategoryName   string    `json:"categoria_nome"`
	CreatedAt      time.Time `json:"criado_em"`
}

func newProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		Price:          p.Price.StringFixed(2),
		PriceFormatted: domain.FormatBRL(p.Price),
		Stock:          p.Stock,
		ImageURL:       p.ImageURL,
		CategorySlug:   p.CategorySlug,
		CategoryName:   p.CategoryName,
		CreatedAt:      p.CreatedAt,
	}
}

type productListResponse struct {
	Products []productResponse `json:"produtos"`
	Total    int               `json:"total"`
}

type productEnvelope struct {
	Product productResponse `json:"produto"`
}
