// Package merge combines an existing cart item set with an incoming mutation batch.
// Both modes are pure: inputs are never modified and a fresh slice is returned.
package merge

import (
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

var ErrQuantityLimit = errors.New("quantity limit exceeded")

// QuantityLimitError names the line whose resulting quantity would pass
// domain.MaxLineQuantity.
type QuantityLimitError struct {
	ProductID string
	Quantity  int
}

func (e *QuantityLimitError) Error() string {
	return fmt.Sprintf("product %s: quantity %d exceeds %d", e.ProductID, e.Quantity, domain.MaxLineQuantity)
}

func (e *QuantityLimitError) Unwrap() error { return ErrQuantityLimit }

// Additive adds incoming quantities to existing ones ("add to cart").
// Within one batch the last entry for a product id wins before it is added.
func Additive(existing []domain.CartItem, incoming []domain.LineMutation, now time.Time) ([]domain.CartItem, error) {
	items, index := copyItems(existing, len(incoming))

	for _, m := range collapse(incoming) {
		// quantities are validated upstream; a non-positive add would break the item invariant
		if m.Quantity <= 0 {
			continue
		}
		if m.Quantity > domain.MaxLineQuantity {
			return nil, &QuantityLimitError{ProductID: m.ProductID, Quantity: m.Quantity}
		}
		if i, ok := index[m.ProductID]; ok {
			// compare against the headroom so the sum itself never overflows
			if items[i].Quantity > domain.MaxLineQuantity-m.Quantity {
				return nil, &QuantityLimitError{ProductID: m.ProductID, Quantity: items[i].Quantity}
			}
			items[i].Quantity += m.Quantity
			items[i].AddedAt = now
			continue
		}
		index[m.ProductID] = len(items)
		items = append(items, domain.CartItem{ProductID: m.ProductID, Quantity: m.Quantity, AddedAt: now})
	}

	return items, nil
}

// Absolute replaces existing quantities ("update cart"); quantity <= 0 removes the item.
func Absolute(existing []domain.CartItem, incoming []domain.LineMutation, now time.Time) ([]domain.CartItem, error) {
	items, index := copyItems(existing, len(incoming))
	live := make([]bool, len(items), cap(items))
	for i := range live {
		live[i] = true
	}

	for _, m := range incoming {
		if m.Quantity > domain.MaxLineQuantity {
			return nil, &QuantityLimitError{ProductID: m.ProductID, Quantity: m.Quantity}
		}
		i, ok := index[m.ProductID]
		switch {
		case ok && m.Quantity <= 0:
			live[i] = false
		case ok:
			items[i].Quantity = m.Quantity
			items[i].AddedAt = now
			live[i] = true
		case m.Quantity > 0:
			index[m.ProductID] = len(items)
			items = append(items, domain.CartItem{ProductID: m.ProductID, Quantity: m.Quantity, AddedAt: now})
			live = append(live, true)
		}
	}

	out := make([]domain.CartItem, 0, len(items))
	for i, it := range items {
		if live[i] {
			out = append(out, it)
		}
	}
	return out, nil
}

func copyItems(existing []domain.CartItem, extra int) ([]domain.CartItem, map[string]int) {
	items := make([]domain.CartItem, len(existing), len(existing)+extra)
	copy(items, existing)

	index := make(map[string]int, len(items)+extra)
	for i, it := range items {
		index[it.ProductID] = i
	}
	return items, index
}

// collapse keeps the last quantity per product id, in first-seen order.
func collapse(incoming []domain.LineMutation) []domain.LineMutation {
	out := make([]domain.LineMutation, 0, len(incoming))
	pos := make(map[string]int, len(incoming))
	for _, m := range incoming {
		if i, ok := pos[m.ProductID]; ok {
			out[i].Quantity = m.Quantity
			continue
		}
		pos[m.ProductID] = len(out)
		out = append(out, m)
	}
	return out
}
