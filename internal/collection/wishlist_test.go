package collection

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
)

func TestWishlistDuplicateAddIsNoOp(t *testing.T) {
	ctx := context.Background()
	wishlist := mustWishlist(t, storage.NewMemoryStorage())
	mustHydrate(t, wishlist.Store)

	added, err := wishlist.AddProduct(ctx, productShirt)
	if err != nil || !added {
		t.Fatalf("expected first add to append, got added=%v err=%v", added, err)
	}
	renamed := productShirt
	renamed.Name = "Renamed shirt"
	added, err = wishlist.AddProduct(ctx, renamed)
	if err != nil || added {
		t.Fatalf("expected duplicate add to be a no-op, got added=%v err=%v", added, err)
	}
	if wishlist.Count() != 1 {
		t.Fatalf("expected count to stay 1, got %d", wishlist.Count())
	}
	if item, _ := wishlist.Get(productShirt.ID); item.Product.Name != productShirt.Name {
		t.Fatalf("expected existing entry to be kept, got %q", item.Product.Name)
	}
}

func TestWishlistToggle(t *testing.T) {
	ctx := context.Background()
	memory := storage.NewMemoryStorage()
	wishlist := mustWishlist(t, memory)
	mustHydrate(t, wishlist.Store)

	present, err := wishlist.Toggle(ctx, productShoes)
	if err != nil || !present {
		t.Fatalf("expected toggle to add, got present=%v err=%v", present, err)
	}
	present, err = wishlist.Toggle(ctx, productShoes)
	if err != nil || present {
		t.Fatalf("expected toggle to remove, got present=%v err=%v", present, err)
	}

	reloaded := mustWishlist(t, memory)
	mustHydrate(t, reloaded.Store)
	if reloaded.Contains(productShoes.ID) {
		t.Fatalf("expected toggled-off product to stay removed after reload")
	}
}

func TestWishlistAndCartUseSeparateKeys(t *testing.T) {
	ctx := context.Background()
	memory := storage.NewMemoryStorage()
	keyspace := storage.NewKeyspace()
	cart, err := NewCart(CartConfig{Storage: memory, Keyspace: keyspace})
	if err != nil {
		t.Fatalf("failed to construct cart: %v", err)
	}
	wishlist, err := NewWishlist(WishlistConfig{Storage: memory, Keyspace: keyspace})
	if err != nil {
		t.Fatalf("failed to construct wishlist: %v", err)
	}
	mustHydrate(t, cart.Store)
	mustHydrate(t, wishlist.Store)

	if _, err := wishlist.AddProduct(ctx, productShirt); err != nil {
		t.Fatalf("wishlist add failed: %v", err)
	}
	if cart.Count() != 0 {
		t.Fatalf("expected wishlist add to leave cart untouched")
	}
	if wishlist.StorageKey() == cart.StorageKey() {
		t.Fatalf("expected distinct storage keys")
	}
}
