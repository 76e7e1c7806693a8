package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrVersionConflict = errors.New("cart was modified concurrently")
)

// CartRepository stores one cart document per owner.
// SaveCart is conditional on cart.Version: 0 inserts, n updates only a stored
// revision n. On success the cart carries the new version and timestamps.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	DeleteCart(ctx context.Context, userID string) error
	Ping(ctx context.Context) error
}
