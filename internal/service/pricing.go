package service

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/cart-api/internal/catalog"
	"github.com/fjod/go_cart/cart-api/internal/domain"
)

// PriceLookup resolves the current unit price of one product.
type PriceLookup interface {
	PriceFor(ctx context.Context, productID string) (catalog.Price, error)
}

type pricedCart struct {
	total    decimal.Decimal
	currency string
}

// priceItems looks up every item concurrently and sums quantity x unit price.
// Any single failure fails the whole call; partial totals are never returned.
func (s *CartService) priceItems(ctx context.Context, items []domain.CartItem) (pricedCart, error) {
	if len(items) == 0 {
		return pricedCart{total: decimal.Zero}, nil
	}

	prices := make([]catalog.Price, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for idx := range items {
		g.Go(func() error {
			p, err := s.prices.PriceFor(gctx, items[idx].ProductID)
			if err != nil {
				return &PricingError{ProductID: items[idx].ProductID, Err: err}
			}
			prices[idx] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return pricedCart{}, err
	}

	total := decimal.Zero
	for idx, it := range items {
		total = total.Add(prices[idx].UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	return pricedCart{total: total, currency: prices[0].Currency}, nil
}
