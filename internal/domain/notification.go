package domain

import (
	"time"

	"github.com/google/uuid"
)

const NotificationTypeLowStock = "LOW_STOCK"

// Notification is an operator-facing alert written by the low-stock watcher.
// Read is the only field ever mutated after creation.
type Notification struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Type        string    `json:"type" db:"type"`
	Message     string    `json:"message" db:"message"`
	ProductID   uuid.UUID `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name" db:"product_name"`
	Stock       int       `json:"stock" db:"stock"`
	Read        bool      `json:"read" db:"read"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
