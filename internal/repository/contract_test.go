package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/cart-api/internal/domain"
)

// runContract exercises the CartRepository contract against a live store.
func runContract(t *testing.T, repo CartRepository) {
	t.Run("GetCart_NotFound", func(t *testing.T) {
		cart, err := repo.GetCart(context.Background(), "nonexistent")

		assert.ErrorIs(t, err, ErrCartNotFound)
		assert.Nil(t, cart)
	})

	t.Run("SaveCart_InsertAndRead", func(t *testing.T) {
		ctx := context.Background()
		cart := &domain.Cart{
			UserID:     "user-insert",
			Items:      []domain.CartItem{{ProductID: "p1", Quantity: 3}, {ProductID: "p2", Quantity: 1}},
			TotalPrice: decimal.RequireFromString("40.50"),
			Currency:   "INR",
		}

		require.NoError(t, repo.SaveCart(ctx, cart))
		assert.NotEmpty(t, cart.ID)
		assert.Equal(t, int64(1), cart.Version)
		assert.False(t, cart.CreatedAt.IsZero())

		stored, err := repo.GetCart(ctx, "user-insert")
		require.NoError(t, err)
		assert.Equal(t, cart.ID, stored.ID)
		assert.Len(t, stored.Items, 2)
		assert.Equal(t, "p1", stored.Items[0].ProductID)
		assert.Equal(t, 3, stored.Items[0].Quantity)
		assert.True(t, decimal.RequireFromString("40.5").Equal(stored.TotalPrice))
		assert.Equal(t, "INR", stored.Currency)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("SaveCart_UpdateBumpsVersion", func(t *testing.T) {
		ctx := context.Background()
		cart := &domain.Cart{UserID: "user-update", Items: []domain.CartItem{{ProductID: "p1", Quantity: 1}}, TotalPrice: decimal.NewFromInt(10)}
		require.NoError(t, repo.SaveCart(ctx, cart))

		loaded, err := repo.GetCart(ctx, "user-update")
		require.NoError(t, err)
		loaded.Items = []domain.CartItem{}
		loaded.TotalPrice = decimal.Zero
		require.NoError(t, repo.SaveCart(ctx, loaded))
		assert.Equal(t, int64(2), loaded.Version)

		stored, err := repo.GetCart(ctx, "user-update")
		require.NoError(t, err)
		assert.Empty(t, stored.Items)
		assert.True(t, stored.TotalPrice.IsZero())
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("SaveCart_StaleVersionConflicts", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, repo.SaveCart(ctx, &domain.Cart{UserID: "user-race", TotalPrice: decimal.Zero}))

		first, err := repo.GetCart(ctx, "user-race")
		require.NoError(t, err)
		second, err := repo.GetCart(ctx, "user-race")
		require.NoError(t, err)

		first.Items = []domain.CartItem{{ProductID: "a", Quantity: 1}}
		require.NoError(t, repo.SaveCart(ctx, first))

		second.Items = []domain.CartItem{{ProductID: "b", Quantity: 1}}
		err = repo.SaveCart(ctx, second)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.Equal(t, int64(1), second.Version, "failed save must not touch the cart")

		stored, err := repo.GetCart(ctx, "user-race")
		require.NoError(t, err)
		require.Len(t, stored.Items, 1)
		assert.Equal(t, "a", stored.Items[0].ProductID)
	})

	t.Run("SaveCart_DuplicateInsertConflicts", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, repo.SaveCart(ctx, &domain.Cart{UserID: "user-dup", TotalPrice: decimal.Zero}))

		err := repo.SaveCart(ctx, &domain.Cart{UserID: "user-dup", TotalPrice: decimal.Zero})
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("DeleteCart", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, repo.SaveCart(ctx, &domain.Cart{UserID: "user-delete", TotalPrice: decimal.Zero}))

		require.NoError(t, repo.DeleteCart(ctx, "user-delete"))

		_, err := repo.GetCart(ctx, "user-delete")
		assert.ErrorIs(t, err, ErrCartNotFound)
		assert.ErrorIs(t, repo.DeleteCart(ctx, "user-delete"), ErrCartNotFound)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
		defer cancel()

		time.Sleep(10 * time.Millisecond) // Ensure context is cancelled

		_, err := repo.GetCart(ctx, "user123")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "context")
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(context.Background()))
	})
}
