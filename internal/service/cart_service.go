package service

import (
	"context"
	"fmt"

	"aquastore/internal/domain"
	"aquastore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartStore is the session-cart persistence contract consumed by the cart and
// checkout services.
type CartStore interface {
	Items(ctx context.Context, sessionID string) (map[uuid.UUID]int, error)
	SetQuantity(ctx context.Context, sessionID string, productID uuid.UUID, quantity int) error
	Remove(ctx context.Context, sessionID string, productID uuid.UUID) error
	Clear(ctx context.Context, sessionID string) error
}

// CartView is a cart hydrated against the current catalog.
type CartView struct {
	Items    []CartViewItem `json:"items"`
	Subtotal float64        `json:"subtotal"`
	Count    int            `json:"count"`
}

// CartViewItem pairs a live product with its carted quantity. Unlike order
// line items this is NOT a snapshot; prices here track the catalog.
type CartViewItem struct {
	Product  *domain.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

// CartService manages per-session shopping carts. Quantities are capped at
// the product's current stock, mirroring the storefront's add-to-cart rules.
type CartService interface {
	Get(ctx context.Context, sessionID string) (*CartView, error)
	AddItem(ctx context.Context, sessionID string, productID uuid.UUID) (*CartView, error)
	UpdateQuantity(ctx context.Context, sessionID string, productID uuid.UUID, quantity int) (*CartView, error)
	RemoveItem(ctx context.Context, sessionID string, productID uuid.UUID) (*CartView, error)
	Clear(ctx context.Context, sessionID string) error
}

type cartService struct {
	store       CartStore
	productRepo repository.ProductRepository
	logger      *zap.Logger
}

// NewCartService creates a new instance of CartService
func NewCartService(store CartStore, productRepo repository.ProductRepository, logger *zap.Logger) CartService {
	return &cartService{
		store:       store,
		productRepo: productRepo,
		logger:      logger,
	}
}

// Get returns the cart hydrated against current product data. Products that
// have been deleted since they were carted are dropped from the view.
func (s *cartService) Get(ctx context.Context, sessionID string) (*CartView, error) {
	items, err := s.store.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, sessionID, items)
}

// AddItem puts one unit of the product in the cart, or bumps the quantity if
// it is already there. Exceeding available stock is rejected.
func (s *cartService) AddItem(ctx context.Context, sessionID string, productID uuid.UUID) (*CartView, error) {
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	current := items[productID]
	if current+1 > product.Stock {
		verr := newValidationError()
		verr.add("quantity", fmt.Sprintf("Only %d of %q in stock", product.Stock, product.Name))
		return nil, verr
	}

	if err := s.store.SetQuantity(ctx, sessionID, productID, current+1); err != nil {
		return nil, err
	}
	items[productID] = current + 1

	return s.hydrate(ctx, sessionID, items)
}

// UpdateQuantity sets an exact quantity, bounded by 1 and available stock.
func (s *cartService) UpdateQuantity(ctx context.Context, sessionID string, productID uuid.UUID, quantity int) (*CartView, error) {
	verr := newValidationError()
	if quantity < 1 {
		verr.add("quantity", "Quantity must be at least 1")
		return nil, verr
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > product.Stock {
		verr.add("quantity", fmt.Sprintf("Only %d of %q in stock", product.Stock, product.Name))
		return nil, verr
	}

	if err := s.store.SetQuantity(ctx, sessionID, productID, quantity); err != nil {
		return nil, err
	}

	items, err := s.store.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, sessionID, items)
}

// RemoveItem drops a product from the cart.
func (s *cartService) RemoveItem(ctx context.Context, sessionID string, productID uuid.UUID) (*CartView, error) {
	if err := s.store.Remove(ctx, sessionID, productID); err != nil {
		return nil, err
	}
	items, err := s.store.Items(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, sessionID, items)
}

// Clear empties the cart.
func (s *cartService) Clear(ctx context.Context, sessionID string) error {
	return s.store.Clear(ctx, sessionID)
}

func (s *cartService) hydrate(ctx context.Context, sessionID string, items map[uuid.UUID]int) (*CartView, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}

	products, err := s.productRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	view := &CartView{Items: []CartViewItem{}}
	for id, quantity := range items {
		product, ok := products[id]
		if !ok {
			// Product deleted since it was carted; prune it quietly.
			if err := s.store.Remove(ctx, sessionID, id); err != nil {
				s.logger.Warn("Failed to prune deleted product from cart",
					zap.Error(err), zap.String("product_id", id.String()))
			}
			continue
		}
		view.Items = append(view.Items, CartViewItem{Product: product, Quantity: quantity})
		view.Subtotal += product.Price * float64(quantity)
		view.Count += quantity
	}

	return view, nil
}
