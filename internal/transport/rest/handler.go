// Package rest provides HTTP handlers for catalog, cart, recommendation and checkout operations.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/abgdnv/tarpets/internal/catalog"
	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
	"github.com/abgdnv/tarpets/internal/service"
	"github.com/abgdnv/tarpets/pkg/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// ReadinessCheck reports whether the service can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	service  service.StorefrontService
	auth     func(http.Handler) http.Handler
	ready    ReadinessCheck
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler. auth guards the routes that need a signed-in user.
func NewHandler(service service.StorefrontService, auth func(http.Handler) http.Handler, ready ReadinessCheck, logger *slog.Logger) *Handler {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &Handler{
		service:  service,
		auth:     auth,
		ready:    ready,
		validate: validator.New(),
		logger:   logger.With("component", "rest"),
	}
}

// RegisterRoutes registers the HTTP routes of the storefront.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/discounted", h.DiscountedProducts)
			r.Get("/{id}", h.GetProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(web.SessionMiddleware)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.GetCart)
				r.Delete("/", h.ClearCart)
				r.Get("/recommendations", h.CartRecommendations)
				r.Post("/items", h.AddItem)
				r.Route("/items/{id}", func(r chi.Router) {
					r.Delete("/", h.RemoveItem)
					r.Post("/increase", h.IncreaseItem)
					r.Post("/decrease", h.DecreaseItem)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(h.auth)
				r.Get("/profile/recommendations", h.ProfileRecommendations)
				r.Post("/checkout", h.Checkout)
				r.Get("/orders", h.Orders)
			})
		})
	})
	r.Get("/healthz", h.HealthCheck)
	r.Get("/readyz", h.ReadinessCheck)
}

// ListProducts returns the catalog filtered by the search, category and subcategory query
// parameters, with the subcategories of the category.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	query := r.URL.Query()
	filter := catalog.Filter{
		Search:      query.Get("search"),
		Category:    query.Get("category"),
		Subcategory: query.Get("subcategory"),
	}
	page, err := h.service.Products(r.Context(), filter)
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error fetching products", "error", err)
		web.RespondError(w, mLogger, http.StatusBadGateway, "Catalog is unavailable")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, page)
}

// DiscountedProducts returns the products on sale.
func (h *Handler) DiscountedProducts(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	products, err := h.service.DiscountedProducts(r.Context())
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error fetching discounted products", "error", err)
		web.RespondError(w, mLogger, http.StatusBadGateway, "Catalog is unavailable")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, products)
}

// GetProduct returns a single product with its discount.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	id, ok := web.ParseProductID(w, r, mLogger)
	if !ok {
		return
	}
	product, err := h.service.Product(r.Context(), id)
	if err != nil {
		if errors.Is(err, storefronterrors.ErrProductNotFound) {
			web.RespondError(w, mLogger, http.StatusNotFound, "Product not found")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error fetching product", "product_id", id, "error", err)
		web.RespondError(w, mLogger, http.StatusBadGateway, "Catalog is unavailable")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, product)
}

// GetCart returns the cart of the session.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	sessionID, ok := web.GetSessionID(w, r, mLogger)
	if !ok {
		return
	}
	view, err := h.service.GetCart(r.Context(), sessionID)
	if err != nil {
		h.respondCartError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, view)
}

// AddItem adds one unit of a catalog product to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	sessionID, ok := web.GetSessionID(w, r, mLogger)
	if !ok {
		return
	}
	var dto service.AddItemDto
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		mLogger.ErrorContext(r.Context(), "Error decoding request body", "error", err)
		web.RespondError(w, mLogger, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		web.RespondValidationError(w, mLogger, err)
		return
	}

	mLogger.DebugContext(r.Context(), "Received request to add item", "product_id", dto.ProductID)
	view, err := h.service.AddItem(r.Context(), sessionID, dto.ProductID)
	if err != nil {
		if errors.Is(err, storefronterrors.ErrStorageUnavailable) {
			h.respondCartError(w, r, mLogger, err)
			return
		}
		if errors.Is(err, storefronterrors.ErrProductNotFound) {
			mLogger.WarnContext(r.Context(), "Product not found", "product_id", dto.ProductID)
			web.RespondError(w, mLogger, http.StatusNotFound, "Product not found")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error fetching product", "product_id", dto.ProductID, "error", err)
		web.RespondError(w, mLogger, http.StatusBadGateway, "Catalog is unavailable")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, view)
}

// RemoveItem deletes a product from the cart. Unknown products are ignored.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.itemOperation(w, r, h.service.RemoveItem)
}

// IncreaseItem adds one to the quantity of a product in the cart.
func (h *Handler) IncreaseItem(w http.ResponseWriter, r *http.Request) {
	h.itemOperation(w, r, h.service.IncreaseItem)
}

// DecreaseItem subtracts one from the quantity of a product in the cart, keeping at least one.
func (h *Handler) DecreaseItem(w http.ResponseWriter, r *http.Request) {
	h.itemOperation(w, r, h.service.DecreaseItem)
}

func (h *Handler) itemOperation(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, sessionID string, productID int64) (service.CartView, error)) {
	mLogger := h.loggerWithReqID(r)
	sessionID, ok := web.GetSessionID(w, r, mLogger)
	if !ok {
		return
	}
	id, ok := web.ParseProductID(w, r, mLogger)
	if !ok {
		return
	}
	view, err := op(r.Context(), sessionID, id)
	if err != nil {
		h.respondCartError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, view)
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	sessionID, ok := web.GetSessionID(w, r, mLogger)
	if !ok {
		return
	}
	view, err := h.service.ClearCart(r.Context(), sessionID)
	if err != nil {
		h.respondCartError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, view)
}

// CartRecommendations returns products to show next to the cart.
func (h *Handler) CartRecommendations(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	sessionID, ok := web.GetSessionID(w, r, mLogger)
	if !ok {
		return
	}
	products, err := h.service.CartRecommendations(r.Context(), sessionID)
	if err != nil {
		h.respondCartError(w, r, mLogger, err)
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, products)
}

// ProfileRecommendations returns products matching the pets of the signed-in user.
func (h *Handler) ProfileRecommendations(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	products, err := h.service.ProfileRecommendations(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storefronterrors.ErrUserNotFound) {
			mLogger.WarnContext(r.Context(), "User not found", "user_id", userID)
			web.RespondError(w, mLogger, http.StatusNotFound, "User not found")
			return
		}
		mLogger.ErrorContext(r.Context(), "Error fetching user profile", "user_id", userID, "error", err)
		web.RespondError(w, mLogger, http.StatusBadGateway, "User profile is unavailable")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, products)
}

// Checkout submits the cart as an order of the signed-in user.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	sessionID, ok := web.GetSessionID(w, r, mLogger)
	if !ok {
		return
	}
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	result, err := h.service.Checkout(r.Context(), sessionID, userID)
	if err != nil {
		switch {
		case errors.Is(err, storefronterrors.ErrEmptyCart):
			web.RespondError(w, mLogger, http.StatusBadRequest, "Cart is empty")
		case errors.Is(err, storefronterrors.ErrOrderAlreadyPlaced):
			web.RespondError(w, mLogger, http.StatusConflict, "Order for this cart is already placed")
		case errors.Is(err, storefronterrors.ErrStorageUnavailable):
			h.respondCartError(w, r, mLogger, err)
		default:
			mLogger.ErrorContext(r.Context(), "Checkout failed", "user_id", userID, "error", err)
			web.RespondError(w, mLogger, http.StatusBadGateway, "Failed to place order")
		}
		return
	}
	mLogger.InfoContext(r.Context(), "Order placed successfully", "user_id", userID, "idempotency_key", result.IdempotencyKey)
	web.RespondJSON(w, mLogger, http.StatusCreated, result)
}

// Orders returns the order history of the signed-in user.
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	mLogger := h.loggerWithReqID(r)
	userID, ok := web.GetUserID(w, r, mLogger)
	if !ok {
		return
	}
	orders, err := h.service.Orders(r.Context(), userID)
	if err != nil {
		mLogger.ErrorContext(r.Context(), "Error fetching orders", "user_id", userID, "error", err)
		web.RespondError(w, mLogger, http.StatusBadGateway, "Failed to fetch orders")
		return
	}
	web.RespondJSON(w, mLogger, http.StatusOK, orders)
}

// HealthCheck is a simple liveness endpoint.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ReadinessCheck answers 503 while a dependency is unavailable.
func (h *Handler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.ready(r.Context()); err != nil {
		h.loggerWithReqID(r).WarnContext(r.Context(), "Not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// respondCartError answers 503 when the cart could not be read from storage.
func (h *Handler) respondCartError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "Cart is unavailable", "error", err)
	web.RespondError(w, logger, http.StatusServiceUnavailable, "Cart storage is unavailable")
}

// loggerWithReqID creates a logger with the request ID from the context.
func (h *Handler) loggerWithReqID(r *http.Request) *slog.Logger {
	reqID := middleware.GetReqID(r.Context())
	return h.logger.With("request_id", reqID)
}
