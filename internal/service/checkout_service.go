package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"aquastore/internal/config"
	"aquastore/internal/domain"
	"aquastore/internal/mailer"
	"aquastore/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// Letters and spaces only; Latin plus the Arabic block, matching the
	// storefront's customer base.
	nameRe = regexp.MustCompile(`^[a-zA-Z\x{0600}-\x{06FF}][a-zA-Z\x{0600}-\x{06FF}\s]*$`)

	// Egyptian mobile numbers: 11 digits starting 010, 011, 012 or 015.
	phoneRe = regexp.MustCompile(`^01[0125][0-9]{8}$`)

	postalRe = regexp.MustCompile(`^[0-9]{5,9}$`)
)

const (
	minAddressLength = 10
	minCityLength    = 3
	defaultCountry   = "Egypt"
)

// CartLine is one product/quantity pair submitted at checkout.
type CartLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// CheckoutRequest is everything the coordinator needs to turn a cart into an
// order. IdempotencyKey is optional; when supplied, resubmitting the same key
// returns the previously committed order instead of creating a duplicate.
type CheckoutRequest struct {
	FirstName      string     `json:"first_name" validate:"required,name_chars"`
	LastName       string     `json:"last_name" validate:"required,name_chars"`
	Email          string     `json:"email" validate:"required,email"`
	Phone          string     `json:"phone" validate:"required,phone_eg"`
	Address        string     `json:"address" validate:"required"`
	City           string     `json:"city" validate:"required"`
	PostalCode     string     `json:"postal_code"`
	Country        string     `json:"country"`
	PaymentMethod  string     `json:"payment_method"`
	Items          []CartLine `json:"items"`
	IdempotencyKey string     `json:"idempotency_key"`

	UserID        *uuid.UUID `json:"-"`
	CartSessionID string     `json:"cart_session_id"`
}

// CheckoutService turns a validated cart into a durable order while
// preventing stock from going negative under concurrent checkouts.
type CheckoutService interface {
	SubmitOrder(ctx context.Context, req *CheckoutRequest) (*domain.Order, error)
}

type checkoutService struct {
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	carts       CartStore
	watcher     *StockWatcher
	mail        mailer.Mailer
	emailCfg    config.EmailJSConfig
	shipping    config.ShippingConfig
	operator    string
	logger      *zap.Logger
	validate    *validator.Validate
}

// NewCheckoutService creates a new instance of CheckoutService. carts may be
// nil when no server-side cart is in play (guest checkout from a client-held
// cart).
func NewCheckoutService(
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	carts CartStore,
	watcher *StockWatcher,
	mail mailer.Mailer,
	emailCfg config.EmailJSConfig,
	shipping config.ShippingConfig,
	operatorEmail string,
	logger *zap.Logger,
) CheckoutService {
	v := validator.New()
	v.RegisterValidation("name_chars", func(fl validator.FieldLevel) bool {
		return nameRe.MatchString(fl.Field().String())
	})
	v.RegisterValidation("phone_eg", func(fl validator.FieldLevel) bool {
		return phoneRe.MatchString(fl.Field().String())
	})

	return &checkoutService{
		orderRepo:   orderRepo,
		productRepo: productRepo,
		carts:       carts,
		watcher:     watcher,
		mail:        mail,
		emailCfg:    emailCfg,
		shipping:    shipping,
		operator:    operatorEmail,
		logger:      logger,
		validate:    v,
	}
}

// SubmitOrder is the sole checkout entry point. The commit itself is a single
// database transaction: the order insert, the line-item snapshots and the
// conditional stock decrements land together or not at all. Overselling is
// hard-prevented; a line that can no longer be satisfied aborts the whole
// commit with a retryable insufficient-stock error.
func (s *checkoutService) SubmitOrder(ctx context.Context, req *CheckoutRequest) (*domain.Order, error) {
	products, err := s.validateRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	// Idempotent resubmit: short-circuit to the order already committed
	// under this key.
	if req.IdempotencyKey != "" {
		existing, err := s.orderRepo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			s.logger.Info("Checkout resubmitted with known idempotency key",
				zap.String("order_id", existing.ID.String()))
			return existing, nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	order := s.buildOrder(req, products)

	changes, err := s.orderRepo.Create(ctx, order)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIdempotencyKey) {
			// Lost a race against our own retry; the committed order wins.
			return s.orderRepo.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		}
		var stockErr *repository.InsufficientStockError
		if errors.As(err, &stockErr) {
			s.logger.Warn("Checkout rejected: insufficient stock",
				zap.String("product_id", stockErr.ProductID.String()),
				zap.Int("requested", stockErr.Requested),
				zap.Int("available", stockErr.Available),
			)
			return nil, err
		}
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	s.logger.Info("Order placed",
		zap.String("order_id", order.ID.String()),
		zap.Int("items", len(order.Items)),
		zap.Float64("total", order.Total),
	)

	// Everything below is best-effort. The order is committed; nothing here
	// may fail it.
	if s.carts != nil && req.CartSessionID != "" {
		if err := s.carts.Clear(ctx, req.CartSessionID); err != nil {
			s.logger.Error("Failed to clear cart after checkout", zap.Error(err),
				zap.String("session_id", req.CartSessionID))
		}
	}

	for _, change := range changes {
		s.watcher.Observe(ctx, change)
	}

	go s.sendOrderEmails(order)

	return order, nil
}

// validateRequest performs the full pre-write validation pass and returns the
// products referenced by the cart. Every offending field is reported.
func (s *checkoutService) validateRequest(ctx context.Context, req *CheckoutRequest) (map[uuid.UUID]*domain.Product, error) {
	verr := newValidationError()

	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.add(jsonField(fe), checkoutErrorMessage(fe))
			}
		} else {
			return nil, fmt.Errorf("failed to validate checkout request: %w", err)
		}
	}

	if len(req.Address) > 0 && len([]rune(req.Address)) < minAddressLength {
		verr.add("address", fmt.Sprintf("Address must be at least %d characters", minAddressLength))
	}
	if len(req.City) > 0 && len([]rune(req.City)) < minCityLength {
		verr.add("city", fmt.Sprintf("City must be at least %d characters", minCityLength))
	}

	if req.Country == "" {
		req.Country = defaultCountry
	}
	// Egypt's addressing scheme mandates a postal code.
	if req.Country == defaultCountry {
		if req.PostalCode == "" {
			verr.add("postal_code", "Postal code is required")
		} else if !postalRe.MatchString(req.PostalCode) {
			verr.add("postal_code", "Postal code must be 5 to 9 digits")
		}
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = "cod"
	}

	if len(req.Items) == 0 {
		verr.add("items", "Cart must not be empty")
		return nil, verr
	}

	ids := make([]uuid.UUID, 0, len(req.Items))
	for _, line := range req.Items {
		ids = append(ids, line.ProductID)
	}

	products, err := s.productRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart products: %w", err)
	}

	// Advisory stock check for a friendly early rejection. The authoritative
	// check happens atomically at commit; stock can change in between.
	for i, line := range req.Items {
		field := "items[" + strconv.Itoa(i) + "]"
		if line.Quantity < 1 {
			verr.add(field, "Quantity must be at least 1")
			continue
		}
		product, ok := products[line.ProductID]
		if !ok {
			verr.add(field, "Product no longer exists")
			continue
		}
		if line.Quantity > product.Stock {
			verr.add(field, fmt.Sprintf("Only %d of %q in stock", product.Stock, product.Name))
		}
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}
	return products, nil
}

// buildOrder snapshots the cart against current product data and prices it.
func (s *checkoutService) buildOrder(req *CheckoutRequest, products map[uuid.UUID]*domain.Product) *domain.Order {
	items := make([]domain.OrderLineItem, 0, len(req.Items))
	subtotal := 0.0
	for _, line := range req.Items {
		product := products[line.ProductID]
		items = append(items, domain.OrderLineItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  line.Quantity,
			ImageURL:  product.ImageURL,
		})
		subtotal += product.Price * float64(line.Quantity)
	}

	shippingCost := 0.0
	if subtotal > 0 {
		shippingCost = s.shipping.FlatFee
	}

	now := time.Now()
	return &domain.Order{
		ID:        uuid.New(),
		UserID:    req.UserID,
		UserEmail: req.Email,
		Shipping: domain.ShippingInfo{
			FullName:   req.FirstName + " " + req.LastName,
			Phone:      req.Phone,
			Address:    req.Address,
			City:       req.City,
			PostalCode: req.PostalCode,
			Country:    req.Country,
		},
		Items:          items,
		Subtotal:       subtotal,
		ShippingCost:   shippingCost,
		Total:          subtotal + shippingCost,
		Status:         domain.OrderStatusPending,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// sendOrderEmails dispatches the purchaser confirmation and the operator copy.
// Failures are logged and swallowed.
func (s *checkoutService) sendOrderEmails(order *domain.Order) {
	if s.mail == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	params := map[string]string{
		"to_name":             order.Shipping.FullName,
		"order_id":            order.ID.String(),
		"order_subtotal":      fmt.Sprintf("%.2f", order.Subtotal),
		"order_shipping_cost": fmt.Sprintf("%.2f", order.ShippingCost),
		"order_total":         fmt.Sprintf("%.2f", order.Total),
		"order_address":       fmt.Sprintf("%s, %s, %s, %s", order.Shipping.Address, order.Shipping.City, order.Shipping.PostalCode, order.Shipping.Country),
		"customer_phone":      order.Shipping.Phone,
		"payment_method":      order.PaymentMethod,
	}

	clientParams := make(map[string]string, len(params)+1)
	for k, v := range params {
		clientParams[k] = v
	}
	clientParams["to_email"] = order.UserEmail
	if err := s.mail.Send(ctx, s.emailCfg.OrderTemplateID, clientParams); err != nil {
		s.logger.Error("Failed to send purchaser confirmation email",
			zap.Error(err), zap.String("order_id", order.ID.String()))
	}

	merchantParams := make(map[string]string, len(params)+2)
	for k, v := range params {
		merchantParams[k] = v
	}
	merchantParams["to_email"] = s.operator
	merchantParams["client_email"] = order.UserEmail
	if err := s.mail.Send(ctx, s.emailCfg.MerchantTemplateID, merchantParams); err != nil {
		s.logger.Error("Failed to send operator order email",
			zap.Error(err), zap.String("order_id", order.ID.String()))
	}
}

// jsonField maps a validator field error onto the request's JSON field name.
func jsonField(fe validator.FieldError) string {
	switch fe.Field() {
	case "FirstName":
		return "first_name"
	case "LastName":
		return "last_name"
	case "Email":
		return "email"
	case "Phone":
		return "phone"
	case "Address":
		return "address"
	case "City":
		return "city"
	case "PostalCode":
		return "postal_code"
	case "Items":
		return "items"
	}
	return fe.Field()
}

func checkoutErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "name_chars":
		return "Must contain letters and spaces only"
	case "phone_eg":
		return "Phone must be 11 digits starting with 010, 011, 012 or 015"
	case "gte":
		return "Value must be at least " + fe.Param()
	default:
		return "Invalid value"
	}
}
