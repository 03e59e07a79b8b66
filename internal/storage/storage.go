// Package storage defines the durable key/value persistence port shared by the
// client-side collections and its SQLite, Redis and in-memory adapters.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Logical keys, one per persisted collection.
const (
	KeyCart          = "storefront-cart"
	KeyWishlist      = "storefront-wishlist"
	KeyNotifications = "admin-notifications"
	KeySession       = "storefront-session"
)

const maxKeyLength = 190

var (
	// ErrInvalidKey indicates an empty or oversized storage key.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrNilPayload indicates Save was called without a payload.
	ErrNilPayload = errors.New("storage: payload required")
)

// Storage reads and writes whole serialized values by key. There are no partial updates.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, payload []byte) error
}

// LoadJSON decodes the value stored under key into dest. It reports false when no value exists.
func LoadJSON[T any](ctx context.Context, store Storage, key string, dest *T) (bool, error) {
	payload, ok, err := store.Load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

// SaveJSON encodes value and stores it under key, replacing any previous value.
func SaveJSON[T any](ctx context.Context, store Storage, key string, value T) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return store.Save(ctx, key, payload)
}

func validateKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(trimmed) > maxKeyLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidKey, maxKeyLength)
	}
	return trimmed, nil
}
