package collection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
)

var errWriteRejected = errors.New("write rejected")

// recordingStorage wraps memory storage and counts writes; writes can be made to fail.
type recordingStorage struct {
	*storage.MemoryStorage
	mu         sync.Mutex
	writes     int
	failWrites bool
}

func newRecordingStorage() *recordingStorage {
	return &recordingStorage{MemoryStorage: storage.NewMemoryStorage()}
}

func (r *recordingStorage) Save(ctx context.Context, key string, payload []byte) error {
	r.mu.Lock()
	r.writes++
	fail := r.failWrites
	r.mu.Unlock()
	if fail {
		return errWriteRejected
	}
	return r.MemoryStorage.Save(ctx, key, payload)
}

func (r *recordingStorage) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func (r *recordingStorage) setFailWrites(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWrites = fail
}

func mustCart(t *testing.T, store storage.Storage) *Cart {
	t.Helper()
	cart, err := NewCart(CartConfig{Storage: store})
	if err != nil {
		t.Fatalf("failed to construct cart: %v", err)
	}
	return cart
}

func mustWishlist(t *testing.T, store storage.Storage) *Wishlist {
	t.Helper()
	wishlist, err := NewWishlist(WishlistConfig{Storage: store})
	if err != nil {
		t.Fatalf("failed to construct wishlist: %v", err)
	}
	return wishlist
}

func mustHydrate[E Entry](t *testing.T, store *Store[E]) {
	t.Helper()
	if err := store.Hydrate(context.Background()); err != nil {
		t.Fatalf("unexpected hydrate error: %v", err)
	}
}

func durableCartItems(t *testing.T, store storage.Storage) []CartItem {
	t.Helper()
	var items []CartItem
	if _, err := storage.LoadJSON(context.Background(), store, storage.KeyCart, &items); err != nil {
		t.Fatalf("failed to load durable cart: %v", err)
	}
	return items
}

func assertCartMatchesDurable(t *testing.T, cart *Cart, store storage.Storage) {
	t.Helper()
	memory := cart.Items()
	durable := durableCartItems(t, store)
	if len(memory) != len(durable) {
		t.Fatalf("memory has %d entries, durable copy has %d", len(memory), len(durable))
	}
	for index := range memory {
		if memory[index] != durable[index] {
			t.Fatalf("entry %d differs: memory %#v durable %#v", index, memory[index], durable[index])
		}
	}
}

func receiveEvent(t *testing.T, events <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected change event within deadline")
		return ChangeEvent{}
	}
}

var (
	productShirt = Product{ID: "p1", Name: "Shirt", PriceCents: 2500}
	productShoes = Product{ID: "p2", Name: "Shoes", PriceCents: 8000}
)
