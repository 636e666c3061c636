package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aquastore/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrDuplicateIdempotencyKey = errors.New("order with this idempotency key already exists")
)

// InsufficientStockError is returned when a checkout commit finds that a line
// item can no longer be satisfied. The whole transaction is rolled back, so
// the caller may retry.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidTransitionError is returned when an order status change violates the
// pending -> processing -> shipped -> delivered state machine.
type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %q to %q", e.From, e.To)
}

// BulkStatusResult reports the per-order outcome of a bulk status update.
// Partial success is reported as partial, never flattened into a blanket OK.
type BulkStatusResult struct {
	Updated []uuid.UUID          `json:"updated"`
	Failed  map[uuid.UUID]string `json:"failed,omitempty"`
}

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	// Create persists the order and atomically reserves stock for every line
	// item in a single transaction. Either the order and all its decrements
	// commit together, or nothing is written.
	Create(ctx context.Context, order *domain.Order) ([]domain.StockChange, error)

	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)
	List(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]*domain.Order, int, error)

	// UpdateStatus applies a single legal state-machine transition and stamps
	// updated_at. Cancelling restocks the order's line items in the same
	// transaction; the resulting stock writes are returned.
	UpdateStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) ([]domain.StockChange, error)

	// BulkUpdateStatus applies the single-order transition rule to each order
	// independently and reports every outcome.
	BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, target domain.OrderStatus) (*BulkStatusResult, []domain.StockChange, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a new instance of OrderRepository
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `id, user_id, user_email, full_name, phone, address, city, postal_code, country,
	subtotal, shipping_cost, total, status, payment_method, created_at, updated_at`

// Create inserts the order, its line-item snapshots, and the conditional stock
// decrements in one transaction. The decrement is store-native
// ("stock = stock - n WHERE stock >= n"), never a client-side read-modify-write,
// so two concurrent checkouts for the same product cannot both observe the
// same stock value and oversell.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) ([]domain.StockChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var key any
	if order.IdempotencyKey != "" {
		key = order.IdempotencyKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, user_email, full_name, phone, address, city, postal_code, country,
			subtotal, shipping_cost, total, status, payment_method, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		order.ID,
		order.UserID,
		order.UserEmail,
		order.Shipping.FullName,
		order.Shipping.Phone,
		order.Shipping.Address,
		order.Shipping.City,
		order.Shipping.PostalCode,
		order.Shipping.Country,
		order.Subtotal,
		order.ShippingCost,
		order.Total,
		order.Status,
		order.PaymentMethod,
		key,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateIdempotencyKey
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	changes := make([]domain.StockChange, 0, len(order.Items))
	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, name, price, quantity, image_url)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			order.ID, i, item.ProductID, item.Name, item.Price, item.Quantity, item.ImageURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}

		var (
			name     string
			newStock int
		)
		err = tx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock - $2, updated_at = $3
			WHERE id = $1 AND stock >= $2
			RETURNING name, stock`,
			item.ProductID, item.Quantity, time.Now(),
		).Scan(&name, &newStock)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, r.insufficientStock(ctx, tx, item)
			}
			return nil, fmt.Errorf("failed to reserve stock: %w", err)
		}

		changes = append(changes, domain.StockChange{
			ProductID:   item.ProductID,
			ProductName: name,
			Previous:    newStock + item.Quantity,
			New:         newStock,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	return changes, nil
}

func (r *orderRepository) insufficientStock(ctx context.Context, tx *sql.Tx, item domain.OrderLineItem) error {
	var available int
	err := tx.QueryRowContext(ctx, `SELECT stock FROM products WHERE id = $1`, item.ProductID).Scan(&available)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrProductNotFound
		}
		return fmt.Errorf("failed to read stock: %w", err)
	}
	return &InsufficientStockError{
		ProductID: item.ProductID,
		Requested: item.Quantity,
		Available: available,
	}
}

// FindByID retrieves an order with its line items
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order by ID: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// FindByIdempotencyKey retrieves the order previously committed under key.
func (r *orderRepository) FindByIdempotencyKey(ctx context.Context, idemKey string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, idemKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order by idempotency key: %w", err)
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

// ListByUser retrieves a user's orders, newest first
func (r *orderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders by user: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := r.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}

	return orders, nil
}

// List retrieves orders with optional status filtering and pagination,
// newest first
func (r *orderRepository) List(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]*domain.Order, int, error) {
	whereClause := ""
	args := []interface{}{}
	argIndex := 1

	if status != "" {
		whereClause = fmt.Sprintf("WHERE status = $%d", argIndex)
		args = append(args, status)
		argIndex++
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM orders %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, whereClause, argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}

	for _, order := range orders {
		if err := r.loadItems(ctx, order); err != nil {
			return nil, 0, err
		}
	}

	return orders, total, nil
}

// UpdateStatus applies one state-machine transition under a row lock.
func (r *orderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) ([]domain.StockChange, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current domain.OrderStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to lock order row: %w", err)
	}

	if !current.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{From: current, To: target}
	}

	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		id, target, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	var changes []domain.StockChange
	if target == domain.OrderStatusCancelled {
		changes, err = r.restockItems(ctx, tx, id)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit status update: %w", err)
	}

	return changes, nil
}

// restockItems returns a cancelled order's reserved quantities to inventory.
// Products deleted since the order was placed are skipped; the snapshot on the
// order is all that remains of them.
func (r *orderRepository) restockItems(ctx context.Context, tx *sql.Tx, orderID uuid.UUID) ([]domain.StockChange, error) {
	rows, err := tx.QueryContext(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items for restock: %w", err)
	}
	defer rows.Close()

	type line struct {
		productID uuid.UUID
		quantity  int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err := rows.Scan(&l.productID, &l.quantity); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		lines = append(lines, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}

	var changes []domain.StockChange
	for _, l := range lines {
		var (
			name     string
			newStock int
		)
		err = tx.QueryRowContext(ctx, `
			UPDATE products
			SET stock = stock + $2, updated_at = $3
			WHERE id = $1
			RETURNING name, stock`,
			l.productID, l.quantity, time.Now(),
		).Scan(&name, &newStock)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, fmt.Errorf("failed to restock product: %w", err)
		}
		changes = append(changes, domain.StockChange{
			ProductID:   l.productID,
			ProductName: name,
			Previous:    newStock - l.quantity,
			New:         newStock,
		})
	}

	return changes, nil
}

// BulkUpdateStatus applies the transition to each order independently.
func (r *orderRepository) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, target domain.OrderStatus) (*BulkStatusResult, []domain.StockChange, error) {
	result := &BulkStatusResult{
		Updated: []uuid.UUID{},
		Failed:  map[uuid.UUID]string{},
	}

	var allChanges []domain.StockChange
	for _, id := range ids {
		changes, err := r.UpdateStatus(ctx, id, target)
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Updated = append(result.Updated, id)
		allChanges = append(allChanges, changes...)
	}

	return result, allChanges, nil
}

// Delete removes an order and (via cascade) its line items
func (r *orderRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.UserEmail,
		&order.Shipping.FullName,
		&order.Shipping.Phone,
		&order.Shipping.Address,
		&order.Shipping.City,
		&order.Shipping.PostalCode,
		&order.Shipping.Country,
		&order.Subtotal,
		&order.ShippingCost,
		&order.Total,
		&order.Status,
		&order.PaymentMethod,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func collectOrders(rows *sql.Rows) ([]*domain.Order, error) {
	orders := []*domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, price, quantity, image_url
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no`, order.ID)
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	order.Items = []domain.OrderLineItem{}
	for rows.Next() {
		var item domain.OrderLineItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.ImageURL); err != nil {
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating order items: %w", err)
	}

	return nil
}
