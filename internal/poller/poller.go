package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CartDiscarder drops an owner's cart once their order has been placed.
type CartDiscarder interface {
	DiscardCart(ctx context.Context, userID string) error
}

// checkoutEvent is the part of a checkout-outbox record the cart cares about.
type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

var errMalformed = errors.New("malformed checkout event")

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Poller consumes completed checkouts and discards the matching carts.
type Poller struct {
	carts   CartDiscarder
	reader  *kafka.Reader
	logger  *zap.Logger
	retries int
	backoff time.Duration
}

func NewPoller(carts CartDiscarder, cfg Config, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{
		carts:   carts,
		reader:  reader,
		logger:  log.With(zap.String("topic", cfg.Topic)),
		retries: 3,
		backoff: 500 * time.Millisecond,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		p.consumeOne(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.logger.Warn("error closing reader", zap.Error(err))
	}
}

func (p *Poller) consumeOne(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("error reading message", zap.Error(err))
		}
		return
	}

	log := p.logger.With(zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset))
	if err := p.handleWithRetry(ctx, m); err != nil {
		if ctx.Err() != nil {
			return // redelivered after restart
		}
		log.Error("dropping checkout event", zap.Error(err))
	}

	if err := p.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Warn("failed to commit message", zap.Error(err))
	}
}

func (p *Poller) handleWithRetry(ctx context.Context, m kafka.Message) error {
	var err error
	for attempt := 1; attempt <= p.retries; attempt++ {
		err = p.handleMessage(ctx, m)
		if err == nil || errors.Is(err, errMalformed) {
			return err
		}
		p.logger.Warn("failed to discard cart", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (p *Poller) handleMessage(ctx context.Context, m kafka.Message) error {
	var ev checkoutEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return fmt.Errorf("%w: %v", errMalformed, err)
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: missing user_id", errMalformed)
	}

	if err := p.carts.DiscardCart(ctx, ev.UserID); err != nil {
		return fmt.Errorf("discard cart of %s: %w", ev.UserID, err)
	}
	p.logger.Info("cart discarded after checkout",
		zap.String("user_id", ev.UserID), zap.String("checkout_id", ev.CheckoutID))
	return nil
}
