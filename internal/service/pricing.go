package service

import (
	"context"
	"errors"

	"catering-service/internal/apperror"
	"catering-service/internal/catalog"
	"catering-service/internal/models"
	"catering-service/internal/util"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// DeliveryLineID is the product id of the server generated delivery line
const DeliveryLineID = "delivery"

var priceTolerance = decimal.New(1, -2)

// Quote is the authoritative price of one product
type Quote struct {
	ProductID string
	Title     string
	Price     decimal.Decimal
}

// PriceAuthority answers what a product costs right now
type PriceAuthority struct {
	catalog catalog.ProductCatalog
}

func NewPriceAuthority(c catalog.ProductCatalog) *PriceAuthority {
	return &PriceAuthority{catalog: c}
}

// PriceFor returns the discounted unit price of productID
func (p *PriceAuthority) PriceFor(ctx context.Context, productID string) (decimal.Decimal, error) {
	q, err := p.Quote(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// Quote looks the product up in the catalog and applies its discount
func (p *PriceAuthority) Quote(ctx context.Context, productID string) (*Quote, error) {
	ctx, span := util.StartSpan(ctx, "PriceAuthority.Quote")
	defer span.End()

	product, err := p.catalog.FindByID(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, apperror.NotFound("product %s not found", productID)
	}
	if err != nil {
		return nil, util.RecordError(span, apperror.Unavailable("product catalog unavailable", err))
	}

	return &Quote{
		ProductID: productID,
		Title:     product.Title,
		Price:     product.DiscountedPrice(),
	}, nil
}

// Totals are the server computed monetary fields of an order
type Totals struct {
	ProductTotal decimal.Decimal
	DeliveryFee  decimal.Decimal
	TotalAmount  decimal.Decimal
}

// DeliveryFeeFor returns fee for delivery orders and zero for pickup
func DeliveryFeeFor(deliveryType models.DeliveryType, fee decimal.Decimal) decimal.Decimal {
	if deliveryType == models.DeliveryTypeDelivery {
		return fee
	}
	return decimal.Zero
}

// ComputeTotals sums the product lines and adds the delivery fee.
// Delivery lines in lines are ignored.
func ComputeTotals(lines []models.LineItem, deliveryType models.DeliveryType, fee decimal.Decimal) Totals {
	products := lo.Filter(lines, func(li models.LineItem, _ int) bool {
		return !li.IsDeliveryLine
	})
	productTotal := lo.Reduce(products, func(sum decimal.Decimal, li models.LineItem, _ int) decimal.Decimal {
		return sum.Add(li.Subtotal())
	}, decimal.Zero)

	deliveryFee := DeliveryFeeFor(deliveryType, fee)
	return Totals{
		ProductTotal: productTotal,
		DeliveryFee:  deliveryFee,
		TotalAmount:  productTotal.Add(deliveryFee),
	}
}

// DeliveryLine is the trailing line that carries the delivery fee
func DeliveryLine(fee decimal.Decimal) models.LineItem {
	return models.LineItem{
		ProductID:      DeliveryLineID,
		Title:          "Delivery",
		UnitPrice:      fee,
		Quantity:       1,
		IsDeliveryLine: true,
	}
}

func amountsMatch(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(priceTolerance)
}
