package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

// CartCache is a read-through copy of stored carts, never a source of truth.
// Set is ordered by cart.Version: an entry is never replaced by an older
// version. Delete leaves a short-lived tombstone that rejects every Set, so
// a fill racing an invalidation cannot bring back the old cart.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
