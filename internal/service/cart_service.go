package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/fjod/go_cart/cart-api/internal/cache"
	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/logger"
	"github.com/fjod/go_cart/cart-api/internal/merge"
	"github.com/fjod/go_cart/cart-api/internal/repository"
)

const (
	defaultMaxConcurrency = 8
	defaultMaxAttempts    = 3
)

// Result is the outcome of a successful mutation.
type Result struct {
	Cart *domain.Cart
	// Created is true when no live cart existed before this request.
	Created bool
}

type CartService struct {
	repo   repository.CartRepository
	cache  cache.CartCache
	prices PriceLookup
	sfg    singleflight.Group // Prevents cache stampede

	logger         *zap.Logger
	maxConcurrency int
	maxAttempts    int
	now            func() time.Time
}

type Option func(*CartService)

func WithLogger(l *zap.Logger) Option {
	return func(s *CartService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxConcurrency bounds the in-flight price lookups of one request.
func WithMaxConcurrency(n int) Option {
	return func(s *CartService) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithMaxAttempts bounds how often a mutation is re-run after losing a
// version race.
func WithMaxAttempts(n int) Option {
	return func(s *CartService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *CartService) { s.now = now }
}

func NewCartService(repo repository.CartRepository, c cache.CartCache, prices PriceLookup, opts ...Option) *CartService {
	s := &CartService{
		repo:           repo,
		cache:          c,
		prices:         prices,
		logger:         zap.NewNop(),
		maxConcurrency: defaultMaxConcurrency,
		maxAttempts:    defaultMaxAttempts,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type mutation struct {
	op          string
	requireLive bool
	apply       func(existing []domain.CartItem, now time.Time) ([]domain.CartItem, error)
}

// AddItems adds quantities to the owner's cart, creating it when needed.
func (s *CartService) AddItems(ctx context.Context, userID string, items []domain.LineMutation) (*Result, error) {
	return s.reconcile(ctx, userID, mutation{
		op: "add",
		apply: func(existing []domain.CartItem, now time.Time) ([]domain.CartItem, error) {
			return merge.Additive(existing, items, now)
		},
	})
}

// UpdateItems sets absolute quantities; a quantity <= 0 removes the item.
func (s *CartService) UpdateItems(ctx context.Context, userID string, items []domain.LineMutation) (*Result, error) {
	return s.reconcile(ctx, userID, mutation{
		op:          "update",
		requireLive: true,
		apply: func(existing []domain.CartItem, now time.Time) ([]domain.CartItem, error) {
			return merge.Absolute(existing, items, now)
		},
	})
}

// ClearCart empties the owner's cart. A cart that is missing or already
// empty yields ErrCartNotFound, so a second clear converges on NotFound.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	res, err := s.reconcile(ctx, userID, mutation{
		op:          "clear",
		requireLive: true,
		apply: func([]domain.CartItem, time.Time) ([]domain.CartItem, error) {
			return []domain.CartItem{}, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return res.Cart, nil
}

// reconcile runs Load, Merge, Price and Persist, rerunning the whole
// sequence when the conditional write loses to a concurrent writer.
func (s *CartService) reconcile(ctx context.Context, userID string, m mutation) (*Result, error) {
	log := logger.FromContext(ctx, s.logger).With(zap.String("user_id", userID), zap.String("op", m.op))

	for attempt := 1; ; attempt++ {
		res, err := s.reconcileOnce(ctx, userID, m)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			if !errors.Is(err, ErrCartNotFound) {
				log.Warn("cart mutation failed", zap.Int("attempt", attempt), zap.Error(err))
			}
			return nil, err
		}
		if attempt >= s.maxAttempts {
			log.Warn("giving up after version conflicts", zap.Int("attempts", attempt))
			return nil, ErrConcurrentUpdate
		}
		log.Debug("version conflict, reloading cart", zap.Int("attempt", attempt))
	}
}

func (s *CartService) reconcileOnce(ctx context.Context, userID string, m mutation) (*Result, error) {
	// Loaded
	cart, err := s.repo.GetCart(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		if m.requireLive {
			return nil, ErrCartNotFound
		}
		cart = domain.NewEmptyCart(userID)
	case err != nil:
		return nil, fmt.Errorf("load cart: %w", err)
	case cart.IsEmpty() && m.requireLive:
		return nil, ErrCartNotFound
	}
	created := cart.IsEmpty()

	// Merged
	next := cart.Clone()
	if next.Items, err = m.apply(cart.Items, s.now()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	// Priced
	priced, err := s.priceItems(ctx, next.Items)
	if err != nil {
		return nil, err
	}
	next.TotalPrice = priced.total
	next.Currency = priced.currency

	// Persisted
	if err = s.repo.SaveCart(ctx, next); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, err
		}
		// the write may or may not have landed
		s.invalidateCache(ctx, userID)
		return nil, &PersistenceError{Op: "save", Err: err}
	}
	s.writeThrough(ctx, next)

	return &Result{Cart: next, Created: created}, nil
}

// GetCart never mutates. A missing cart is returned as a synthesized empty
// cart rather than an error.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	log := logger.FromContext(ctx, s.logger)

	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Warn("cache get error", zap.String("user_id", userID), zap.Error(err)) // continue with the store
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewEmptyCart(userID), nil
		}
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}

		snapshot := cart.Clone()
		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.Set(setCtx, userID, snapshot); errSet != nil {
				log.Warn("cache set error", zap.String("user_id", userID), zap.Error(errSet))
			}
		}()

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share the cart
	return v.(*domain.Cart).Clone(), nil
}

// DiscardCart removes the owner's cart document after checkout. A missing
// cart is not an error.
func (s *CartService) DiscardCart(ctx context.Context, userID string) error {
	err := s.repo.DeleteCart(ctx, userID)
	s.invalidateCache(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrCartNotFound) {
		return &PersistenceError{Op: "discard", Err: err}
	}
	return nil
}

// writeThrough caches the cart just saved. The cache orders entries by
// version, so a slower fill of an older read cannot replace it.
func (s *CartService) writeThrough(ctx context.Context, cart *domain.Cart) {
	setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Set(setCtx, cart.UserID, cart.Clone()); err != nil {
		logger.FromContext(ctx, s.logger).Warn("cache write-through error",
			zap.String("user_id", cart.UserID), zap.Error(err))
		s.invalidateCache(ctx, cart.UserID)
	}
}

func (s *CartService) invalidateCache(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		logger.FromContext(ctx, s.logger).Warn("cache invalidate error",
			zap.String("user_id", userID), zap.Error(err))
	}
}
