package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxLineQuantity bounds the quantity of a single cart line.
const MaxLineQuantity = 10000

type Cart struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	Items      []CartItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency,omitempty"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type CartItem struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// LineMutation is one incoming {productId, quantity} entry of a mutation batch.
type LineMutation struct {
	ProductID string
	Quantity  int
}

// NewEmptyCart synthesizes an unsaved cart for an owner that has none.
func NewEmptyCart(userID string) *Cart {
	return &Cart{
		UserID:     userID,
		Items:      []CartItem{},
		TotalPrice: decimal.Zero,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Clone returns a deep copy so a failed reconciliation never leaks into the loaded cart.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make([]CartItem, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}
