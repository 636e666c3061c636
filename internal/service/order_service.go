package service

import (
	"context"

	"aquastore/internal/domain"
	"aquastore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService covers order history reads and the operator-initiated status
// mutations. Status transitions follow the fixed state machine; cancellation
// returns reserved stock to inventory.
type OrderService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	List(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]*domain.Order, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) error
	BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, target domain.OrderStatus) (*repository.BulkStatusResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type orderService struct {
	repo    repository.OrderRepository
	watcher *StockWatcher
	logger  *zap.Logger
}

// NewOrderService creates a new instance of OrderService
func NewOrderService(repo repository.OrderRepository, watcher *StockWatcher, logger *zap.Logger) OrderService {
	return &orderService{
		repo:    repo,
		watcher: watcher,
		logger:  logger,
	}
}

// Get retrieves an order with its line items
func (s *orderService) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.repo.FindByID(ctx, id)
}

// ListByUser retrieves a user's order history, newest first
func (s *orderService) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// List retrieves orders for the admin table
func (s *orderService) List(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]*domain.Order, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return s.repo.List(ctx, status, page, pageSize)
}

// UpdateStatus applies a single status transition.
func (s *orderService) UpdateStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) error {
	if !target.Valid() {
		verr := newValidationError()
		verr.add("status", "Unknown order status")
		return verr
	}

	changes, err := s.repo.UpdateStatus(ctx, id, target)
	if err != nil {
		return err
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", id.String()),
		zap.String("status", string(target)),
	)

	// Restocks only raise stock, so the watcher never fires here; it is still
	// told about every stock write for uniformity.
	for _, change := range changes {
		s.watcher.Observe(ctx, change)
	}
	return nil
}

// BulkUpdateStatus applies the single-order transition rule to each selected
// order independently and reports the aggregate, including partial failures.
func (s *orderService) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, target domain.OrderStatus) (*repository.BulkStatusResult, error) {
	if !target.Valid() {
		verr := newValidationError()
		verr.add("status", "Unknown order status")
		return nil, verr
	}
	if len(ids) == 0 {
		verr := newValidationError()
		verr.add("order_ids", "Select at least one order")
		return nil, verr
	}

	result, changes, err := s.repo.BulkUpdateStatus(ctx, ids, target)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Bulk order status update",
		zap.String("status", string(target)),
		zap.Int("updated", len(result.Updated)),
		zap.Int("failed", len(result.Failed)),
	)

	for _, change := range changes {
		s.watcher.Observe(ctx, change)
	}
	return result, nil
}

// Delete removes an order entirely (admin only).
func (s *orderService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Order deleted", zap.String("order_id", id.String()))
	return nil
}
