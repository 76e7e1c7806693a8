package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-api/internal/catalog"
	"github.com/fjod/go_cart/cart-api/internal/domain"
	"github.com/fjod/go_cart/cart-api/internal/logger"
	"github.com/fjod/go_cart/cart-api/internal/service"
)

// CartService is the part of service.CartService the handlers drive.
type CartService interface {
	AddItems(ctx context.Context, userID string, items []domain.LineMutation) (*service.Result, error)
	UpdateItems(ctx context.Context, userID string, items []domain.LineMutation) (*service.Result, error)
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type CartHandler struct {
	carts  CartService
	logger *zap.Logger
}

func NewCartHandler(carts CartService, log *zap.Logger) *CartHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartHandler{
		carts:  carts,
		logger: log,
	}
}

var productIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

type ItemRequestDTO struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

type ItemsRequestDTO struct {
	Items []ItemRequestDTO `json:"items"`
}

type ItemDTO struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type CartDTO struct {
	ID         string      `json:"id,omitempty"`
	UserID     string      `json:"userId"`
	Items      []ItemDTO   `json:"items"`
	TotalPrice json.Number `json:"totalPrice"`
	Currency   string      `json:"currency,omitempty"`
}

type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Data    *CartDTO `json:"data,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Code    string       `json:"code,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

func (h *CartHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	items, ok := decodeItems(w, r, 1)
	if !ok {
		return
	}

	res, err := h.carts.AddItems(r.Context(), userID, items)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if res.Created {
		respondJSON(w, http.StatusCreated, Response{Success: true, Message: "Cart created", Data: toCartDTO(res.Cart)})
		return
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Cart updated", Data: toCartDTO(res.Cart)})
}

func (h *CartHandler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	// quantity <= 0 is a removal here, so any integer is accepted
	items, ok := decodeItems(w, r, minQuantityAny)
	if !ok {
		return
	}

	res, err := h.carts.UpdateItems(r.Context(), userID, items)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Cart updated", Data: toCartDTO(res.Cart)})
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	cart, err := h.carts.GetCart(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	// a stored cart is "retrieved" even with no items; only a missing one is "empty"
	message := "Cart retrieved"
	if cart.Version == 0 {
		message = "Cart is empty"
	}
	respondJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: toCartDTO(cart)})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}

	cart, err := h.carts.ClearCart(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, Response{Success: true, Message: "Cart deleted", Data: toCartDTO(cart)})
}

const minQuantityAny = -1 << 31

// decodeItems parses and validates a mutation body, writing the 400 itself.
func decodeItems(w http.ResponseWriter, r *http.Request, minQuantity int) ([]domain.LineMutation, bool) {
	var req ItemsRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return nil, false
	}

	var problems []FieldError
	if len(req.Items) == 0 {
		problems = append(problems, FieldError{Field: "items", Message: "items must be a non-empty array"})
	}
	for i, it := range req.Items {
		if !productIDPattern.MatchString(it.ProductID) {
			problems = append(problems, FieldError{
				Field:   fmt.Sprintf("items[%d].productId", i),
				Message: "productId must be a valid id",
			})
		}
		switch {
		case it.Quantity == nil:
			problems = append(problems, FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "quantity is required",
			})
		case *it.Quantity < minQuantity:
			problems = append(problems, FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: fmt.Sprintf("quantity must be at least %d", minQuantity),
			})
		case *it.Quantity > domain.MaxLineQuantity:
			problems = append(problems, FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: fmt.Sprintf("quantity must be at most %d", domain.MaxLineQuantity),
			})
		}
	}
	if len(problems) > 0 {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "validation_failed",
			Errors:  problems,
		})
		return nil, false
	}

	out := make([]domain.LineMutation, len(req.Items))
	for i, it := range req.Items {
		out[i] = domain.LineMutation{ProductID: it.ProductID, Quantity: *it.Quantity}
	}
	return out, true
}

func toCartDTO(cart *domain.Cart) *CartDTO {
	dto := &CartDTO{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      make([]ItemDTO, len(cart.Items)),
		TotalPrice: json.Number(cart.TotalPrice.String()),
		Currency:   cart.Currency,
	}
	for i, it := range cart.Items {
		dto.Items[i] = ItemDTO{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return dto
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Message: message,
		Code:    code,
	})
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var persistErr *service.PersistenceError

	switch {
	case errors.Is(err, service.ErrValidation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Code:    "validation_failed",
			Errors:  []FieldError{{Field: "items", Message: err.Error()}},
		})
	case errors.Is(err, service.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "not_found", "Cart not found")
	case errors.Is(err, catalog.ErrProductNotFound):
		var pe *service.PricingError
		msg := "Product not found"
		if errors.As(err, &pe) {
			msg = fmt.Sprintf("Product not found: %s", pe.ProductID)
		}
		respondError(w, http.StatusUnprocessableEntity, "product_not_found", msg)
	case errors.Is(err, service.ErrPricingUnavailable):
		respondError(w, http.StatusServiceUnavailable, "pricing_unavailable", "Pricing unavailable")
	case errors.Is(err, service.ErrConcurrentUpdate):
		respondError(w, http.StatusConflict, "concurrent_update", "Cart was modified concurrently, retry the request")
	case errors.As(err, &persistErr):
		logger.FromContext(r.Context(), h.logger).Error("cart write failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "persistence_failed", "Cart could not be saved")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "Request timed out")
	default:
		logger.FromContext(r.Context(), h.logger).Error("cart request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}
