package main

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

// demoCatalog seeds the in-memory store so STORE=memory serves a usable shop.
func demoCatalog() []domain.Product {
	created := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	product := func(id int64, name, price string, stock int, slug, category string) domain.Product {
		return domain.Product{
			ID:           id,
			Name:         name,
			Price:        decimal.RequireFromString(price),
			Stock:        stock,
			Active:       true,
			CategorySlug: slug,
			CategoryName: category,
			CreatedAt:    created,
		}
	}

	return []domain.Product{
		product(1, "Ração Premium Cães Adultos 15kg", "189.90", 25, "alimentacao", "Alimentação"),
		product(2, "Ração Gatos Castrados 10kg", "159.90", 18, "alimentacao", "Alimentação"),
		product(3, "Bolinha Mordedor de Borracha", "24.90", 60, "brinquedos", "Brinquedos"),
		product(4, "Arranhador Torre para Gatos", "139.00", 7, "brinquedos", "Brinquedos"),
		product(5, "Guia Retrátil 5m", "19.90", 3, "passeio", "Passeio"),
		product(6, "Coleira Antipulgas", "79.90", 12, "saude", "Saúde"),
		product(7, "Caminha Pet Acolchoada M", "119.90", 9, "conforto", "Conforto"),
	}
}
