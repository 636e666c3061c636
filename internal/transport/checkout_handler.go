package transport

import (
	"encoding/json"
	"net/http"

	"aquastore/internal/middleware"
	"aquastore/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutHandler handles HTTP requests for placing orders
type CheckoutHandler struct {
	checkoutService service.CheckoutService
	logger          *zap.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(checkoutService service.CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		logger:          logger,
	}
}

// RegisterRoutes registers the checkout route. Checkout is open to guests;
// optionalAuth attaches the user identity when a valid token is presented but
// never rejects the request.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router, optionalAuth func(http.Handler) http.Handler) {
	r.Route("/api/checkout", func(r chi.Router) {
		r.Use(optionalAuth)
		r.Post("/", h.SubmitOrder)
	})
}

// SubmitOrder handles order placement
func (h *CheckoutHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug("Checkout decode failed", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Tie the order to the authenticated user when there is one; guest
	// checkouts go through with a nil user.
	if userIDStr, ok := middleware.GetUserID(r.Context()); ok {
		if userID, err := uuid.Parse(userIDStr); err == nil {
			req.UserID = &userID
		}
	}

	order, err := h.checkoutService.SubmitOrder(r.Context(), &req)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, order)
}
