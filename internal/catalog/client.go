package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-api/internal/logger"
)

const defaultCurrency = "INR"

var (
	ErrProductNotFound = errors.New("product not found in catalog")
	ErrUnavailable     = errors.New("catalog unavailable")

	// errAbandoned marks lookups the caller gave up on; they say nothing
	// about catalog health.
	errAbandoned = errors.New("lookup abandoned by caller")
)

type Price struct {
	ProductID string
	UnitPrice decimal.Decimal
	Currency  string
}

// productResponse is the subset of GET /api/products/{id} the cart needs.
type productResponse struct {
	Success bool `json:"success"`
	Product *struct {
		ID    string `json:"_id"`
		Price struct {
			Amount   *decimal.Decimal `json:"amount"`
			Currency string           `json:"currency"`
		} `json:"price"`
	} `json:"product"`
}

// Client resolves current unit prices from the catalog (product) service.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[Price]
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(c *Client) {
		st.IsSuccessful = isBreakerSuccess
		st.IsExcluded = isAbandoned
		c.breaker = gobreaker.NewCircuitBreaker[Price](st)
	}
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log,
	}
	WithBreakerSettings(gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})(c)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PriceFor fetches the current price of one product. Failures are either
// ErrProductNotFound or ErrUnavailable; a price is never defaulted to zero.
func (c *Client) PriceFor(ctx context.Context, productID string) (Price, error) {
	if err := ctx.Err(); err != nil {
		return Price{}, fmt.Errorf("product %s: %w: %w", productID, ErrUnavailable, err)
	}

	p, err := c.breaker.Execute(func() (Price, error) {
		return c.fetch(ctx, productID)
	})
	if err == nil {
		return p, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Price{}, fmt.Errorf("product %s: %w: %v", productID, ErrUnavailable, err)
	}
	return Price{}, err
}

func (c *Client) fetch(ctx context.Context, productID string) (Price, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/api/products/" + url.PathEscape(productID)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return Price{}, fmt.Errorf("product %s: %w: %v", productID, ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// a sibling failed or the client went away; only c.timeout counts
		if ctx.Err() != nil {
			return Price{}, fmt.Errorf("product %s: %w: %w: %w", productID, ErrUnavailable, errAbandoned, ctx.Err())
		}
		logger.FromContext(ctx, c.logger).Warn("catalog request failed",
			zap.String("product_id", productID), zap.Error(err))
		return Price{}, fmt.Errorf("product %s: %w: %v", productID, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return Price{}, fmt.Errorf("product %s: %w", productID, ErrProductNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Price{}, fmt.Errorf("product %s: %w: catalog returned %d: %s",
			productID, ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var pr productResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		if ctx.Err() != nil {
			return Price{}, fmt.Errorf("product %s: %w: %w: %w", productID, ErrUnavailable, errAbandoned, ctx.Err())
		}
		return Price{}, fmt.Errorf("product %s: %w: decode response: %v", productID, ErrUnavailable, err)
	}
	if pr.Product == nil || pr.Product.Price.Amount == nil {
		return Price{}, fmt.Errorf("product %s: %w: response carries no price", productID, ErrUnavailable)
	}
	if pr.Product.Price.Amount.IsNegative() {
		return Price{}, fmt.Errorf("product %s: %w: negative price %s", productID, ErrUnavailable, pr.Product.Price.Amount)
	}

	currency := pr.Product.Price.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return Price{
		ProductID: productID,
		UnitPrice: *pr.Product.Price.Amount,
		Currency:  currency,
	}, nil
}

// isBreakerSuccess keeps "product gone" answers from tripping the breaker:
// the catalog responded, so it is healthy.
func isBreakerSuccess(err error) bool {
	return err == nil || errors.Is(err, ErrProductNotFound)
}

func isAbandoned(err error) bool {
	return errors.Is(err, errAbandoned)
}
