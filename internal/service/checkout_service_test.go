package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aquastore/internal/config"
	"aquastore/internal/domain"
	"aquastore/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// In-memory fakes shared by the checkout, cart and watcher tests.

type memProductRepo struct {
	mu       sync.Mutex
	products map[uuid.UUID]*domain.Product
}

func newMemProductRepo(products ...*domain.Product) *memProductRepo {
	repo := &memProductRepo{products: map[uuid.UUID]*domain.Product{}}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (m *memProductRepo) Create(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[product.ID] = product
	return nil
}

func (m *memProductRepo) Update(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.products[product.ID]
	if !ok {
		return repository.ErrProductNotFound
	}
	stock := existing.Stock
	clone := *product
	clone.Stock = stock
	m.products[product.ID] = &clone
	return nil
}

func (m *memProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *memProductRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	clone := *product
	return &clone, nil
}

func (m *memProductRepo) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := map[uuid.UUID]*domain.Product{}
	for _, id := range ids {
		if product, ok := m.products[id]; ok {
			clone := *product
			found[id] = &clone
		}
	}
	return found, nil
}

func (m *memProductRepo) List(ctx context.Context, category string, page, pageSize int, sortBy string, sortOrder repository.SortOrder) ([]*domain.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var products []*domain.Product
	for _, p := range m.products {
		if category == "" || p.Category == category {
			clone := *p
			products = append(products, &clone)
		}
	}
	return products, len(products), nil
}

func (m *memProductRepo) Search(ctx context.Context, query string, page, pageSize int) ([]*domain.Product, int, error) {
	return m.List(ctx, "", page, pageSize, "", repository.SortOrderDesc)
}

func (m *memProductRepo) AdjustStock(ctx context.Context, id uuid.UUID, delta int) (*domain.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	if product.Stock+delta < 0 {
		return nil, repository.ErrStockBelowZero
	}
	change := &domain.StockChange{
		ProductID:   id,
		ProductName: product.Name,
		Previous:    product.Stock,
		New:         product.Stock + delta,
	}
	product.Stock += delta
	return change, nil
}

func (m *memProductRepo) SetStock(ctx context.Context, id uuid.UUID, value int) (*domain.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	product, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	change := &domain.StockChange{
		ProductID:   id,
		ProductName: product.Name,
		Previous:    product.Stock,
		New:         value,
	}
	product.Stock = value
	return change, nil
}

// memOrderRepo mimics the transactional all-or-nothing stock reservation of
// the real repository against a memProductRepo.
type memOrderRepo struct {
	mu          sync.Mutex
	products    *memProductRepo
	orders      map[uuid.UUID]*domain.Order
	byKey       map[string]uuid.UUID
	createErr   error
	createCalls int
}

func newMemOrderRepo(products *memProductRepo) *memOrderRepo {
	return &memOrderRepo{
		products: products,
		orders:   map[uuid.UUID]*domain.Order{},
		byKey:    map[string]uuid.UUID{},
	}
}

func (m *memOrderRepo) Create(ctx context.Context, order *domain.Order) ([]domain.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++

	if m.createErr != nil {
		return nil, m.createErr
	}
	if order.IdempotencyKey != "" {
		if _, exists := m.byKey[order.IdempotencyKey]; exists {
			return nil, repository.ErrDuplicateIdempotencyKey
		}
	}

	m.products.mu.Lock()
	defer m.products.mu.Unlock()

	// Check every line before touching anything, like a rolled-back tx.
	for _, item := range order.Items {
		product, ok := m.products.products[item.ProductID]
		if !ok {
			return nil, repository.ErrProductNotFound
		}
		if product.Stock < item.Quantity {
			return nil, &repository.InsufficientStockError{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: product.Stock,
			}
		}
	}

	changes := make([]domain.StockChange, 0, len(order.Items))
	for _, item := range order.Items {
		product := m.products.products[item.ProductID]
		changes = append(changes, domain.StockChange{
			ProductID:   item.ProductID,
			ProductName: product.Name,
			Previous:    product.Stock,
			New:         product.Stock - item.Quantity,
		})
		product.Stock -= item.Quantity
	}

	m.orders[order.ID] = order
	if order.IdempotencyKey != "" {
		m.byKey[order.IdempotencyKey] = order.ID
	}
	return changes, nil
}

func (m *memOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (m *memOrderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return m.orders[id], nil
}

func (m *memOrderRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []*domain.Order
	for _, order := range m.orders {
		if order.UserID != nil && *order.UserID == userID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (m *memOrderRepo) List(ctx context.Context, status domain.OrderStatus, page, pageSize int) ([]*domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var orders []*domain.Order
	for _, order := range m.orders {
		if status == "" || order.Status == status {
			orders = append(orders, order)
		}
	}
	return orders, len(orders), nil
}

func (m *memOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, target domain.OrderStatus) ([]domain.StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, &repository.InvalidTransitionError{From: order.Status, To: target}
	}
	order.Status = target
	order.UpdatedAt = time.Now()

	var changes []domain.StockChange
	if target == domain.OrderStatusCancelled {
		m.products.mu.Lock()
		for _, item := range order.Items {
			product, ok := m.products.products[item.ProductID]
			if !ok {
				continue
			}
			changes = append(changes, domain.StockChange{
				ProductID:   item.ProductID,
				ProductName: product.Name,
				Previous:    product.Stock,
				New:         product.Stock + item.Quantity,
			})
			product.Stock += item.Quantity
		}
		m.products.mu.Unlock()
	}
	return changes, nil
}

func (m *memOrderRepo) BulkUpdateStatus(ctx context.Context, ids []uuid.UUID, target domain.OrderStatus) (*repository.BulkStatusResult, []domain.StockChange, error) {
	result := &repository.BulkStatusResult{Updated: []uuid.UUID{}, Failed: map[uuid.UUID]string{}}
	var allChanges []domain.StockChange
	for _, id := range ids {
		changes, err := m.UpdateStatus(ctx, id, target)
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Updated = append(result.Updated, id)
		allChanges = append(allChanges, changes...)
	}
	return result, allChanges, nil
}

func (m *memOrderRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return repository.ErrOrderNotFound
	}
	delete(m.orders, id)
	return nil
}

type memNotificationRepo struct {
	mu            sync.Mutex
	notifications []*domain.Notification
}

func (m *memNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *memNotificationRepo) List(ctx context.Context, unreadOnly bool) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Notification
	for _, n := range m.notifications {
		if !unreadOnly || !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotificationRepo) MarkRead(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.notifications {
		if n.ID == id {
			n.Read = true
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (m *memNotificationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

type memCartStore struct {
	mu      sync.Mutex
	items   map[string]map[uuid.UUID]int
	cleared []string
}

func newMemCartStore() *memCartStore {
	return &memCartStore{items: map[string]map[uuid.UUID]int{}}
}

func (m *memCartStore) Items(ctx context.Context, sessionID string) (map[uuid.UUID]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[uuid.UUID]int{}
	for id, q := range m.items[sessionID] {
		out[id] = q
	}
	return out, nil
}

func (m *memCartStore) SetQuantity(ctx context.Context, sessionID string, productID uuid.UUID, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[sessionID] == nil {
		m.items[sessionID] = map[uuid.UUID]int{}
	}
	m.items[sessionID][productID] = quantity
	return nil
}

func (m *memCartStore) Remove(ctx context.Context, sessionID string, productID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items[sessionID], productID)
	return nil
}

func (m *memCartStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, sessionID)
	m.cleared = append(m.cleared, sessionID)
	return nil
}

func testProduct(name string, price float64, stock int) *domain.Product {
	return &domain.Product{
		ID:        uuid.New(),
		Name:      name,
		Category:  "fish",
		Price:     price,
		Stock:     stock,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func newTestWatcher(threshold int, repo repository.NotificationRepository) *StockWatcher {
	return NewStockWatcher(config.LowStockConfig{Threshold: threshold}, repo, nil, config.EmailJSConfig{}, "", zap.NewNop())
}

func newTestCheckout(orderRepo repository.OrderRepository, productRepo repository.ProductRepository, carts CartStore, watcher *StockWatcher) CheckoutService {
	return NewCheckoutService(
		orderRepo, productRepo, carts, watcher,
		nil, config.EmailJSConfig{}, config.ShippingConfig{FlatFee: 50}, "", zap.NewNop(),
	)
}

func validCheckoutRequest(items ...CartLine) *CheckoutRequest {
	return &CheckoutRequest{
		FirstName:  "Mona",
		LastName:   "Hassan",
		Email:      "mona@example.com",
		Phone:      "01012345678",
		Address:    "12 Corniche El Nil Street",
		City:       "Cairo",
		PostalCode: "11511",
		Items:      items,
	}
}

func TestCheckout_ValidationReportsEveryInvalidField(t *testing.T) {
	product := testProduct("Neon Tetra", 15, 10)
	productRepo := newMemProductRepo(product)
	orderRepo := newMemOrderRepo(productRepo)
	notifRepo := &memNotificationRepo{}
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(5, notifRepo))

	req := &CheckoutRequest{
		FirstName: "Mona2",        // digits not allowed
		LastName:  "",             // required
		Email:     "not-an-email", // malformed
		Phone:     "12345",        // not an Egyptian mobile
		Address:   "short",        // under 10 characters
		City:      "Ca",           // under 3 characters
		// PostalCode missing; Country defaults to Egypt which requires one
		Items: []CartLine{{ProductID: product.ID, Quantity: 1}},
	}

	_, err := svc.SubmitOrder(context.Background(), req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}

	for _, field := range []string{"first_name", "last_name", "email", "phone", "address", "city", "postal_code"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("expected a rejection for field %q, fields: %v", field, verr.Fields)
		}
	}

	if orderRepo.createCalls != 0 {
		t.Errorf("rejected checkout must not reach the order repository")
	}
}

func TestCheckout_EmptyCartRejected(t *testing.T) {
	productRepo := newMemProductRepo()
	orderRepo := newMemOrderRepo(productRepo)
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(5, &memNotificationRepo{}))

	_, err := svc.SubmitOrder(context.Background(), validCheckoutRequest())
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}
	if _, ok := verr.Fields["items"]; !ok {
		t.Errorf("expected a rejection for the empty cart, fields: %v", verr.Fields)
	}
}

func TestCheckout_TotalsAndSnapshots(t *testing.T) {
	fish := testProduct("Neon Tetra", 100, 10)
	plant := testProduct("Java Fern", 30, 10)
	productRepo := newMemProductRepo(fish, plant)
	orderRepo := newMemOrderRepo(productRepo)
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(5, &memNotificationRepo{}))

	order, err := svc.SubmitOrder(context.Background(), validCheckoutRequest(
		CartLine{ProductID: fish.ID, Quantity: 2},
		CartLine{ProductID: plant.ID, Quantity: 1},
	))
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if order.Subtotal != 230 {
		t.Errorf("expected subtotal 230, got %f", order.Subtotal)
	}
	if order.ShippingCost != 50 {
		t.Errorf("expected flat shipping 50, got %f", order.ShippingCost)
	}
	if order.Total != 280 {
		t.Errorf("expected total 280, got %f", order.Total)
	}
	if order.Status != domain.OrderStatusPending {
		t.Errorf("expected pending status, got %q", order.Status)
	}
	if order.PaymentMethod != "cod" {
		t.Errorf("expected default payment method cod, got %q", order.PaymentMethod)
	}
	if order.Shipping.Country != "Egypt" {
		t.Errorf("expected default country Egypt, got %q", order.Shipping.Country)
	}

	if len(order.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(order.Items))
	}
	if order.Items[0].Name != "Neon Tetra" || order.Items[0].Price != 100 {
		t.Errorf("line item did not snapshot product data: %+v", order.Items[0])
	}
}

func TestCheckout_QuantityExceedingStockRejectedEarly(t *testing.T) {
	product := testProduct("Neon Tetra", 15, 3)
	productRepo := newMemProductRepo(product)
	orderRepo := newMemOrderRepo(productRepo)
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(5, &memNotificationRepo{}))

	_, err := svc.SubmitOrder(context.Background(), validCheckoutRequest(
		CartLine{ProductID: product.ID, Quantity: 5},
	))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got: %v", err)
	}
	if _, ok := verr.Fields["items[0]"]; !ok {
		t.Errorf("expected a rejection for the oversized line, fields: %v", verr.Fields)
	}
}

func TestCheckout_CommitTimeStockRaceSurfacesAsInsufficientStock(t *testing.T) {
	product := testProduct("Neon Tetra", 15, 5)
	productRepo := newMemProductRepo(product)
	orderRepo := newMemOrderRepo(productRepo)
	// The advisory check passes, but the commit loses a race.
	orderRepo.createErr = &repository.InsufficientStockError{
		ProductID: product.ID,
		Requested: 3,
		Available: 1,
	}
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(5, &memNotificationRepo{}))

	_, err := svc.SubmitOrder(context.Background(), validCheckoutRequest(
		CartLine{ProductID: product.ID, Quantity: 3},
	))
	var stockErr *repository.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got: %v", err)
	}
	if stockErr.Available != 1 {
		t.Errorf("expected the commit-time availability, got %d", stockErr.Available)
	}
}

func TestCheckout_IdempotentResubmitReturnsSameOrder(t *testing.T) {
	product := testProduct("Neon Tetra", 15, 10)
	productRepo := newMemProductRepo(product)
	orderRepo := newMemOrderRepo(productRepo)
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(5, &memNotificationRepo{}))

	req := validCheckoutRequest(CartLine{ProductID: product.ID, Quantity: 2})
	req.IdempotencyKey = "retry-abc123"

	first, err := svc.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}

	second, err := svc.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("resubmit created a new order: %s vs %s", second.ID, first.ID)
	}
	if orderRepo.createCalls != 1 {
		t.Errorf("expected exactly one commit attempt, got %d", orderRepo.createCalls)
	}

	remaining, _ := productRepo.FindByID(context.Background(), product.ID)
	if remaining.Stock != 8 {
		t.Errorf("expected stock reserved once (8 left), got %d", remaining.Stock)
	}
}

func TestCheckout_ConcurrentSubmissionsNeverOversell(t *testing.T) {
	product := testProduct("Neon Tetra", 15, 5)
	productRepo := newMemProductRepo(product)
	orderRepo := newMemOrderRepo(productRepo)
	svc := newTestCheckout(orderRepo, productRepo, nil, newTestWatcher(0, &memNotificationRepo{}))

	const buyers = 20
	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitOrder(context.Background(), validCheckoutRequest(
				CartLine{ProductID: product.ID, Quantity: 1},
			))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}

	if succeeded != 5 {
		t.Errorf("expected exactly 5 successful checkouts, got %d", succeeded)
	}
	remaining, _ := productRepo.FindByID(context.Background(), product.ID)
	if remaining.Stock != 0 {
		t.Errorf("expected stock 0 after the rush, got %d", remaining.Stock)
	}
}

func TestCheckout_ClearsCartAndRaisesLowStockAlert(t *testing.T) {
	product := testProduct("Neon Tetra", 15, 6)
	productRepo := newMemProductRepo(product)
	orderRepo := newMemOrderRepo(productRepo)
	notifRepo := &memNotificationRepo{}
	carts := newMemCartStore()
	svc := newTestCheckout(orderRepo, productRepo, carts, newTestWatcher(5, notifRepo))

	req := validCheckoutRequest(CartLine{ProductID: product.ID, Quantity: 2})
	req.CartSessionID = "session-1"
	_ = carts.SetQuantity(context.Background(), "session-1", product.ID, 2)

	if _, err := svc.SubmitOrder(context.Background(), req); err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if len(carts.cleared) != 1 || carts.cleared[0] != "session-1" {
		t.Errorf("expected the session cart to be cleared, got %v", carts.cleared)
	}

	// 6 -> 4 crosses the threshold of 5.
	if got := notifRepo.count(); got != 1 {
		t.Errorf("expected exactly one low-stock notification, got %d", got)
	}
}
