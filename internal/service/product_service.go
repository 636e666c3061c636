package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aquastore/internal/domain"
	"aquastore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockAdjustmentMode selects how a manual stock adjustment is applied.
type StockAdjustmentMode string

const (
	// StockAdjustAdd applies a relative delta to the current stock.
	StockAdjustAdd StockAdjustmentMode = "add"
	// StockAdjustSet replaces the current stock with an absolute value.
	StockAdjustSet StockAdjustmentMode = "set"
)

// ProductInput carries the writable fields of a product.
type ProductInput struct {
	Name          string   `json:"name"`
	Category      string   `json:"category"`
	Description   string   `json:"description"`
	Price         float64  `json:"price"`
	OriginalPrice *float64 `json:"original_price"`
	ImageURL      string   `json:"image_url"`
	Stock         int      `json:"stock"`
}

// ProductService covers catalog browsing and the admin product mutation
// surface. Manual stock adjustments honor the same non-negative invariant as
// the checkout path and feed the same low-stock watcher.
type ProductService interface {
	Create(ctx context.Context, input *ProductInput) (*domain.Product, error)
	Update(ctx context.Context, id uuid.UUID, input *ProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	List(ctx context.Context, category string, page, pageSize int, sortBy string, sortOrder repository.SortOrder) ([]*domain.Product, int, error)
	Search(ctx context.Context, query string, page, pageSize int) ([]*domain.Product, int, error)
	AdjustStock(ctx context.Context, id uuid.UUID, mode StockAdjustmentMode, amount int) (*domain.Product, error)
}

type productService struct {
	repo    repository.ProductRepository
	watcher *StockWatcher
	logger  *zap.Logger
}

// NewProductService creates a new instance of ProductService
func NewProductService(repo repository.ProductRepository, watcher *StockWatcher, logger *zap.Logger) ProductService {
	return &productService{
		repo:    repo,
		watcher: watcher,
		logger:  logger,
	}
}

func validateProductInput(input *ProductInput) error {
	verr := newValidationError()
	if strings.TrimSpace(input.Name) == "" {
		verr.add("name", "This field is required")
	}
	if input.Price < 0 {
		verr.add("price", "Price must not be negative")
	}
	if input.OriginalPrice != nil && *input.OriginalPrice < 0 {
		verr.add("original_price", "Original price must not be negative")
	}
	if input.Stock < 0 {
		verr.add("stock", "Stock must not be negative")
	}
	return verr.orNil()
}

// Create adds a new product to the catalog
func (s *productService) Create(ctx context.Context, input *ProductInput) (*domain.Product, error) {
	if err := validateProductInput(input); err != nil {
		return nil, err
	}

	now := time.Now()
	product := &domain.Product{
		ID:            uuid.New(),
		Name:          input.Name,
		Category:      input.Category,
		Description:   input.Description,
		Price:         input.Price,
		OriginalPrice: input.OriginalPrice,
		ImageURL:      input.ImageURL,
		Stock:         input.Stock,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.String("product_id", product.ID.String()),
		zap.String("name", product.Name),
	)
	return product, nil
}

// Update modifies a product's descriptive fields and price. Stock is changed
// only through AdjustStock.
func (s *productService) Update(ctx context.Context, id uuid.UUID, input *ProductInput) (*domain.Product, error) {
	if err := validateProductInput(input); err != nil {
		return nil, err
	}

	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	product.Name = input.Name
	product.Category = input.Category
	product.Description = input.Description
	product.Price = input.Price
	product.OriginalPrice = input.OriginalPrice
	product.ImageURL = input.ImageURL
	product.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, product); err != nil {
		return nil, err
	}

	s.logger.Info("Product updated", zap.String("product_id", id.String()))
	return product, nil
}

// Delete removes a product. Historical order line items keep their snapshots;
// the low-stock watcher treats a deletion as a no-op.
func (s *productService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Product deleted", zap.String("product_id", id.String()))
	return nil
}

// Get retrieves a single product
func (s *productService) Get(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.repo.FindByID(ctx, id)
}

// List retrieves products with filtering, pagination and sorting
func (s *productService) List(ctx context.Context, category string, page, pageSize int, sortBy string, sortOrder repository.SortOrder) ([]*domain.Product, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.List(ctx, category, page, pageSize, sortBy, sortOrder)
}

// Search retrieves products matching a free-text query
func (s *productService) Search(ctx context.Context, query string, page, pageSize int) ([]*domain.Product, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.repo.Search(ctx, query, page, pageSize)
}

// AdjustStock applies a manual stock adjustment. An adjustment that would
// leave stock negative is rejected with a validation error; successful writes
// are fed to the low-stock watcher.
func (s *productService) AdjustStock(ctx context.Context, id uuid.UUID, mode StockAdjustmentMode, amount int) (*domain.Product, error) {
	var (
		change *domain.StockChange
		err    error
	)

	switch mode {
	case StockAdjustAdd:
		change, err = s.repo.AdjustStock(ctx, id, amount)
	case StockAdjustSet:
		if amount < 0 {
			verr := newValidationError()
			verr.add("amount", "Stock must not be negative")
			return nil, verr
		}
		change, err = s.repo.SetStock(ctx, id, amount)
	default:
		verr := newValidationError()
		verr.add("mode", `Mode must be "add" or "set"`)
		return nil, verr
	}

	if err != nil {
		if errors.Is(err, repository.ErrStockBelowZero) {
			verr := newValidationError()
			verr.add("amount", "Adjustment would leave stock negative")
			return nil, verr
		}
		return nil, err
	}

	s.logger.Info("Stock adjusted",
		zap.String("product_id", id.String()),
		zap.String("mode", string(mode)),
		zap.Int("previous", change.Previous),
		zap.Int("new", change.New),
	)

	s.watcher.Observe(ctx, *change)

	return s.repo.FindByID(ctx, id)
}
