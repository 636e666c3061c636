package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product represents a product in the catalog.
//
// Stock is never allowed to go negative: every mutator (checkout decrement,
// admin adjustment, cancellation restock) enforces the floor, and the
// database carries a CHECK constraint as a backstop.
type Product struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Category      string    `json:"category" db:"category"`
	Description   string    `json:"description" db:"description"`
	Price         float64   `json:"price" db:"price"`
	OriginalPrice *float64  `json:"original_price,omitempty" db:"original_price"`
	ImageURL      string    `json:"image_url" db:"image_url"`
	Stock         int       `json:"stock" db:"stock"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// StockChange records a single write to a product's stock field. The
// previous/new pair is what the low-stock watcher keys off.
type StockChange struct {
	ProductID   uuid.UUID
	ProductName string
	Previous    int
	New         int
}
