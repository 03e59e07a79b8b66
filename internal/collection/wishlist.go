package collection

import (
	"context"

	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"go.uber.org/zap"
)

const wishlistSchema = "wishlist-v1"

// WishlistItem is one saved product. Items are unique by product id.
type WishlistItem struct {
	Product Product `json:"product"`
}

// Key returns the product id.
func (item WishlistItem) Key() string {
	return item.Product.ID
}

func keepExisting(existing, _ WishlistItem) WishlistItem {
	return existing
}

// WishlistConfig describes the dependencies of a Wishlist.
type WishlistConfig struct {
	Storage  storage.Storage
	Keyspace *storage.Keyspace
	Events   *pubsub.Dispatcher[ChangeEvent]
	Logger   *zap.Logger
}

// Wishlist is the persisted list of saved products.
type Wishlist struct {
	*Store[WishlistItem]
}

// NewWishlist constructs an unhydrated wishlist backed by the wishlist storage key.
func NewWishlist(cfg WishlistConfig) (*Wishlist, error) {
	store, err := NewStore(Config[WishlistItem]{
		Storage:  cfg.Storage,
		Key:      storage.KeyWishlist,
		Schema:   wishlistSchema,
		Keyspace: cfg.Keyspace,
		Merge:    keepExisting,
		Events:   cfg.Events,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Wishlist{Store: store}, nil
}

// AddProduct saves product. Saving a product already on the list changes nothing.
func (w *Wishlist) AddProduct(ctx context.Context, product Product) (bool, error) {
	normalized, err := normalizeProduct(product)
	if err != nil {
		return false, err
	}
	return w.Add(ctx, WishlistItem{Product: normalized}), nil
}

// Toggle saves product when absent and removes it when present.
// It reports whether the product is on the list afterwards.
func (w *Wishlist) Toggle(ctx context.Context, product Product) (bool, error) {
	normalized, err := normalizeProduct(product)
	if err != nil {
		return false, err
	}
	return w.Store.Toggle(ctx, WishlistItem{Product: normalized}), nil
}
