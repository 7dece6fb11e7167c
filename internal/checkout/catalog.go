package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"

	"cedra_fulfillment/internal/apperr"
	"cedra_fulfillment/internal/models"
)

var ErrUnknownProduct = errors.New("produit inconnu")

// PriceCatalog fournit le prix de référence ; sans catalogue, les prix soumis sont repris tels quels
type PriceCatalog interface {
	Lookup(ctx context.Context, productRef string) (models.CatalogProduct, error)
}

// ScyllaCatalog lit la table products du keyspace catalogue
type ScyllaCatalog struct {
	session *gocql.Session
}

func NewScyllaCatalog(session *gocql.Session) *ScyllaCatalog {
	return &ScyllaCatalog{session: session}
}

func (c *ScyllaCatalog) Lookup(ctx context.Context, productRef string) (models.CatalogProduct, error) {
	id, err := gocql.ParseUUID(productRef)
	if err != nil {
		return models.CatalogProduct{}, ErrUnknownProduct
	}

	var (
		p     models.CatalogProduct
		pid   gocql.UUID
		price float64
	)
	err = c.session.Query(`SELECT product_id, name, price, is_active FROM products WHERE product_id = ?`, id).
		WithContext(ctx).Scan(&pid, &p.Name, &price, &p.IsActive)
	if errors.Is(err, gocql.ErrNotFound) {
		return models.CatalogProduct{}, ErrUnknownProduct
	}
	if err != nil {
		return models.CatalogProduct{}, fmt.Errorf("lecture produit %s: %w", productRef, err)
	}
	p.ID = pid.String()
	p.Price = decimal.NewFromFloat(price).Round(2)
	return p, nil
}

func (s *Service) priceLines(ctx context.Context, items []LineInput) ([]models.LineItem, error) {
	lines := make([]models.LineItem, 0, len(items))
	for _, it := range items {
		line := models.LineItem{ProductRef: it.ProductRef, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		if s.catalog != nil {
			p, err := s.catalog.Lookup(ctx, it.ProductRef)
			if errors.Is(err, ErrUnknownProduct) {
				return nil, apperr.Validation("produit inconnu: %s", it.ProductRef)
			}
			if err != nil {
				return nil, apperr.Internal(err, "catalogue indisponible")
			}
			if !p.IsActive {
				return nil, apperr.Validation("produit indisponible: %s", p.Name)
			}
			line.Name, line.UnitPrice = p.Name, p.Price
		}
		lines = append(lines, line)
	}
	return lines, nil
}
