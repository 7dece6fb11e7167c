package models

import "github.com/shopspring/decimal"

// CatalogProduct est la vue minimale d'un produit dont le checkout a besoin pour fixer les prix
type CatalogProduct struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	IsActive bool            `json:"is_active"`
}
