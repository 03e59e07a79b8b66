package collection

import (
	"context"
	"strings"

	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"go.uber.org/zap"
)

const (
	cartSchema       = "cart-line-v1"
	cartKeySeparator = "\x1f"
)

// CartItem is one cart line. Lines are unique by product, size and color.
type CartItem struct {
	Product  Product `json:"product"`
	Size     string  `json:"size"`
	Color    string  `json:"color"`
	Quantity int     `json:"quantity"`
}

// Key returns the (product, size, color) uniqueness key.
func (item CartItem) Key() string {
	return CartKey(item.Product.ID, item.Size, item.Color)
}

// CartKey builds the line key for the given product, size and color.
func CartKey(productID, size, color string) string {
	return strings.Join([]string{
		strings.TrimSpace(productID),
		strings.TrimSpace(size),
		strings.TrimSpace(color),
	}, cartKeySeparator)
}

func mergeCartItems(existing, incoming CartItem) CartItem {
	existing.Quantity += incoming.Quantity
	return existing
}

// CartConfig describes the dependencies of a Cart.
type CartConfig struct {
	Storage  storage.Storage
	Keyspace *storage.Keyspace
	Events   *pubsub.Dispatcher[ChangeEvent]
	Logger   *zap.Logger
}

// Cart is the persisted shopping cart.
type Cart struct {
	*Store[CartItem]
}

// NewCart constructs an unhydrated cart backed by the cart storage key.
// An absent durable copy is a legitimate empty cart and is not written on hydration.
func NewCart(cfg CartConfig) (*Cart, error) {
	store, err := NewStore(Config[CartItem]{
		Storage:  cfg.Storage,
		Key:      storage.KeyCart,
		Schema:   cartSchema,
		Keyspace: cfg.Keyspace,
		Merge:    mergeCartItems,
		Events:   cfg.Events,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Cart{Store: store}, nil
}

// AddItem adds quantity units of the product in the chosen size and color.
// Adding an existing line increments its quantity.
func (c *Cart) AddItem(ctx context.Context, product Product, size, color string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	normalized, err := normalizeProduct(product)
	if err != nil {
		return err
	}
	c.Add(ctx, CartItem{
		Product:  normalized,
		Size:     strings.TrimSpace(size),
		Color:    strings.TrimSpace(color),
		Quantity: quantity,
	})
	return nil
}

// SetQuantity sets the quantity of an existing line; a quantity of zero or less removes it.
func (c *Cart) SetQuantity(ctx context.Context, key string, quantity int) bool {
	return c.Update(ctx, key, func(existing CartItem) (CartItem, bool) {
		if quantity <= 0 {
			return existing, false
		}
		existing.Quantity = quantity
		return existing, true
	})
}

// Units returns the total number of units across all lines.
func (c *Cart) Units() int {
	units := 0
	for _, item := range c.Items() {
		units += item.Quantity
	}
	return units
}

// TotalCents returns the sum of price times quantity across all lines.
func (c *Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items() {
		total += item.Product.PriceCents * int64(item.Quantity)
	}
	return total
}
