package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxRequestBodySize = 1 << 20 // 1MB

func NewRouter(cartHandler *CartHandler, log *zap.Logger, requestTimeout time.Duration) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/cart", func(r chi.Router) {
		r.Use(OwnerMiddleware)
		r.Post("/items", cartHandler.AddItems)
		r.Get("/items", cartHandler.GetCart)
		r.Patch("/items", cartHandler.UpdateItems)
		r.Delete("/items", cartHandler.ClearCart)
	})

	return otelhttp.NewHandler(r, "cart-api")
}
