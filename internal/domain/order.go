package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// CanTransitionTo reports whether the transition s -> target is legal.
// The forward chain is pending -> processing -> shipped -> delivered;
// cancelled is reachable from any non-terminal state.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	if s.Terminal() || !target.Valid() {
		return false
	}
	if target == OrderStatusCancelled {
		return true
	}
	switch s {
	case OrderStatusPending:
		return target == OrderStatusProcessing
	case OrderStatusProcessing:
		return target == OrderStatusShipped
	case OrderStatusShipped:
		return target == OrderStatusDelivered
	}
	return false
}

// OrderLineItem is a frozen snapshot of one product/quantity pair, captured
// at order-creation time. It never changes afterwards, even if the underlying
// product is repriced or deleted.
type OrderLineItem struct {
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Name      string    `json:"name" db:"name"`
	Price     float64   `json:"price" db:"price"`
	Quantity  int       `json:"quantity" db:"quantity"`
	ImageURL  string    `json:"image_url" db:"image_url"`
}

// ShippingInfo holds the contact/address fields submitted at checkout.
type ShippingInfo struct {
	FullName   string `json:"full_name" db:"full_name"`
	Phone      string `json:"phone" db:"phone"`
	Address    string `json:"address" db:"address"`
	City       string `json:"city" db:"city"`
	PostalCode string `json:"postal_code" db:"postal_code"`
	Country    string `json:"country" db:"country"`
}

// Order is created exactly once by the checkout coordinator; afterwards only
// Status and UpdatedAt are mutated, by admin action.
type Order struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	UserEmail      string          `json:"user_email" db:"user_email"`
	Shipping       ShippingInfo    `json:"shipping"`
	Items          []OrderLineItem `json:"items"`
	Subtotal       float64         `json:"subtotal" db:"subtotal"`
	ShippingCost   float64         `json:"shipping_cost" db:"shipping_cost"`
	Total          float64         `json:"total" db:"total"`
	Status         OrderStatus     `json:"status" db:"status"`
	PaymentMethod  string          `json:"payment_method" db:"payment_method"`
	IdempotencyKey string          `json:"-" db:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
