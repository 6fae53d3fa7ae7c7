// Package catalog resolves product identifiers to their current list price.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("product not found")

// Kind names the catalog a product came from
type Kind string

const (
	KindMenu    Kind = "menu"
	KindAlcohol Kind = "alcohol"
)

// Product is the price-relevant view of a catalog entry
type Product struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Kind            Kind            `json:"kind"`
}

var hundred = decimal.NewFromInt(100)

// DiscountedPrice applies the active discount, rounded to cents half away
// from zero. Discounts outside 0..100 percent are clamped.
func (p Product) DiscountedPrice() decimal.Decimal {
	discount := decimal.Min(decimal.Max(p.DiscountPercent, decimal.Zero), hundred)
	if discount.IsZero() {
		return p.Price.Round(2)
	}
	factor := decimal.NewFromInt(1).Sub(discount.Div(hundred))
	return p.Price.Mul(factor).Round(2)
}

// ProductCatalog looks up one product by id
type ProductCatalog interface {
	FindByID(ctx context.Context, id string) (*Product, error)
}

// Chain tries each catalog in order and returns the first hit
type Chain []ProductCatalog

// FindByID implements ProductCatalog
func (c Chain) FindByID(ctx context.Context, id string) (*Product, error) {
	for _, source := range c {
		product, err := source.FindByID(ctx, id)
		if err == nil {
			return product, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}
