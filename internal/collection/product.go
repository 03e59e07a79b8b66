package collection

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidProductID indicates that a product identifier is empty or exceeds storage bounds.
	ErrInvalidProductID = errors.New("collection: invalid product id")
	// ErrInvalidQuantity indicates a non-positive quantity on add.
	ErrInvalidQuantity = errors.New("collection: quantity must be positive")
)

// Product is the catalog reference carried by cart and wishlist entries.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
}

func normalizeProduct(product Product) (Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return Product{}, fmt.Errorf("%w: empty", ErrInvalidProductID)
	}
	if len(product.ID) > maxIdentifierLength {
		return Product{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidProductID, maxIdentifierLength)
	}
	product.Name = strings.TrimSpace(product.Name)
	return product, nil
}
