package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cartKeyPrefix = "cart:"
	cartTTL       = 7 * 24 * time.Hour
)

// CartRepository stores per-session carts as redis hashes mapping product ID
// to quantity. Carts expire after a week of inactivity.
type CartRepository struct {
	client *redis.Client
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(client *redis.Client) *CartRepository {
	return &CartRepository{client: client}
}

func cartKey(sessionID string) string {
	return cartKeyPrefix + sessionID
}

// Items returns the cart's product quantities.
func (r *CartRepository) Items(ctx context.Context, sessionID string) (map[uuid.UUID]int, error) {
	raw, err := r.client.HGetAll(ctx, cartKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	items := make(map[uuid.UUID]int, len(raw))
	for field, value := range raw {
		productID, err := uuid.Parse(field)
		if err != nil {
			// Malformed entry; fail closed rather than propagating garbage.
			return nil, fmt.Errorf("malformed cart entry %q: %w", field, err)
		}
		quantity, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("malformed cart quantity %q: %w", value, err)
		}
		items[productID] = quantity
	}
	return items, nil
}

// SetQuantity stores the quantity for one product and refreshes the cart TTL.
func (r *CartRepository) SetQuantity(ctx context.Context, sessionID string, productID uuid.UUID, quantity int) error {
	key := cartKey(sessionID)
	if err := r.client.HSet(ctx, key, productID.String(), quantity).Err(); err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if err := r.client.Expire(ctx, key, cartTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh cart expiry: %w", err)
	}
	return nil
}

// Remove deletes one product from the cart.
func (r *CartRepository) Remove(ctx context.Context, sessionID string, productID uuid.UUID) error {
	if err := r.client.HDel(ctx, cartKey(sessionID), productID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

// Clear drops the whole cart.
func (r *CartRepository) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}
