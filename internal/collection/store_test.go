package collection

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
)

type noteEntry struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (entry noteEntry) Key() string {
	return entry.ID
}

func replaceNote(_, incoming noteEntry) noteEntry {
	return incoming
}

func TestStoreIsNotHydratedUntilLoaded(t *testing.T) {
	cart := mustCart(t, storage.NewMemoryStorage())
	if cart.Hydrated() {
		t.Fatalf("expected fresh store to be unhydrated")
	}
	mustHydrate(t, cart.Store)
	if !cart.Hydrated() {
		t.Fatalf("expected store to be hydrated")
	}
	if err := cart.WaitHydrated(context.Background()); err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
}

func TestCartHydrationDoesNotWriteWhenDurableCopyAbsent(t *testing.T) {
	store := newRecordingStorage()
	cart := mustCart(t, store)
	mustHydrate(t, cart.Store)

	if store.writeCount() != 0 {
		t.Fatalf("expected no write for absent cart, got %d", store.writeCount())
	}
	if _, ok, _ := store.Load(context.Background(), storage.KeyCart); ok {
		t.Fatalf("expected no durable copy to be created")
	}
}

func TestStoreSeedsEmptyDurableCopyWhenConfigured(t *testing.T) {
	store := newRecordingStorage()
	notes, err := NewStore(Config[noteEntry]{
		Storage:        store,
		Key:            "seeded-notes",
		Merge:          replaceNote,
		SeedWhenAbsent: true,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	mustHydrate(t, notes)

	payload, ok, err := store.Load(context.Background(), "seeded-notes")
	if err != nil || !ok {
		t.Fatalf("expected seeded durable copy, got ok=%v err=%v", ok, err)
	}
	if string(payload) != "[]" {
		t.Fatalf("expected empty array, got %s", payload)
	}
}

func TestStoreHydratesExistingDurableCopy(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	if err := storage.SaveJSON(ctx, store, storage.KeyCart, []CartItem{{Product: productShirt, Size: "M", Color: "blue", Quantity: 3}}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cart := mustCart(t, store)
	if cart.Count() != 0 {
		t.Fatalf("expected empty in-memory copy before hydration")
	}
	mustHydrate(t, cart.Store)
	if cart.Units() != 3 {
		t.Fatalf("expected 3 units after hydration, got %d", cart.Units())
	}
}

func TestStoreReplaysMutationsAppliedBeforeHydration(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	if err := storage.SaveJSON(ctx, store, storage.KeyCart, []CartItem{{Product: productShirt, Size: "M", Color: "blue", Quantity: 1}}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	writesBefore := store.writeCount()

	cart := mustCart(t, store)
	if err := cart.AddItem(ctx, productShirt, "M", "blue", 2); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := cart.AddItem(ctx, productShoes, "42", "black", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if store.writeCount() != writesBefore {
		t.Fatalf("expected no durable writes before hydration")
	}

	mustHydrate(t, cart.Store)

	item, _ := cart.Get(CartKey(productShirt.ID, "M", "blue"))
	if item.Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", item.Quantity)
	}
	if cart.Count() != 2 {
		t.Fatalf("expected two lines, got %d", cart.Count())
	}
	assertCartMatchesDurable(t, cart, store)
}

func TestStoreHydratesOnlyOnce(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	cart := mustCart(t, store)
	mustHydrate(t, cart.Store)
	if err := cart.AddItem(ctx, productShirt, "M", "blue", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := storage.SaveJSON(ctx, store.MemoryStorage, storage.KeyCart, []CartItem{}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	mustHydrate(t, cart.Store)
	if cart.Count() != 1 {
		t.Fatalf("expected second hydrate to be ignored, got %d entries", cart.Count())
	}
}

func TestStoreWriteFailureKeepsInMemoryState(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	cart := mustCart(t, store)
	mustHydrate(t, cart.Store)
	store.setFailWrites(true)

	if err := cart.AddItem(ctx, productShirt, "M", "blue", 1); err != nil {
		t.Fatalf("expected write failure to be non-fatal, got %v", err)
	}
	if cart.Units() != 1 {
		t.Fatalf("expected in-memory state to keep the line, got %d units", cart.Units())
	}
	if writes := store.writeCount(); writes != 1 {
		t.Fatalf("expected a single attempted write without retry, got %d", writes)
	}

	reloaded := mustCart(t, store)
	mustHydrate(t, reloaded.Store)
	if reloaded.Count() != 0 {
		t.Fatalf("expected reload to lose the unpersisted line")
	}
}

func TestStoreHydrationReportsLoadFailure(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	if err := store.Save(ctx, storage.KeyCart, []byte("not json")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	cart := mustCart(t, store)
	if err := cart.Hydrate(ctx); err == nil {
		t.Fatalf("expected decode failure to be reported")
	}
	if !cart.Hydrated() {
		t.Fatalf("expected hydration to complete despite load failure")
	}
	if cart.Count() != 0 {
		t.Fatalf("expected empty collection after failed load")
	}
}

func TestStoreFailedLoadDoesNotOverwriteDurableCopy(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	if err := store.Save(ctx, storage.KeyCart, []byte("not json")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	cart := mustCart(t, store)
	if err := cart.AddItem(ctx, productShirt, "M", "blue", 1); err != nil {
		t.Fatalf("pre-hydration add failed: %v", err)
	}
	writesBefore := store.writeCount()

	if err := cart.Hydrate(ctx); err == nil {
		t.Fatalf("expected decode failure to be reported")
	}
	if writes := store.writeCount(); writes != writesBefore {
		t.Fatalf("expected no write during failed hydration, got %d new writes", writes-writesBefore)
	}
	payload, found, err := store.Load(ctx, storage.KeyCart)
	if err != nil || !found || string(payload) != "not json" {
		t.Fatalf("expected durable copy untouched, got %q found=%v err=%v", payload, found, err)
	}
	if cart.Units() != 1 {
		t.Fatalf("expected queued line to stay in memory, got %d units", cart.Units())
	}

	if err := cart.AddItem(ctx, productShoes, "42", "black", 1); err != nil {
		t.Fatalf("add after hydration failed: %v", err)
	}
	if len(durableCartItems(t, store)) != 2 {
		t.Fatalf("expected next mutation to replace the durable copy")
	}
}

func TestStoreBroadcastsAfterDurableWrite(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStorage()
	cart := mustCart(t, store)
	mustHydrate(t, cart.Store)
	subscription := cart.Subscribe(ctx)
	defer subscription.Cancel()

	if err := cart.AddItem(ctx, productShirt, "M", "blue", 1); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	event := receiveEvent(t, subscription.Events())
	if event.Operation != operationAdd || event.Count != 1 || !event.Hydrated {
		t.Fatalf("unexpected event %#v", event)
	}
	if len(durableCartItems(t, store)) != 1 {
		t.Fatalf("expected durable copy to hold the new line when the event is observed")
	}
}

func TestStoreHydrateAnnouncesCompletion(t *testing.T) {
	cart := mustCart(t, storage.NewMemoryStorage())
	subscription := cart.Subscribe(context.Background())
	defer subscription.Cancel()

	cart.HydrateInBackground(context.Background())

	event := receiveEvent(t, subscription.Events())
	if event.Operation != operationHydrate || !event.Hydrated {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestNewStoreValidatesConfig(t *testing.T) {
	if _, err := NewStore(Config[noteEntry]{Key: "notes", Merge: replaceNote}); !errors.Is(err, errMissingStorage) {
		t.Fatalf("expected missing storage error, got %v", err)
	}
	if _, err := NewStore(Config[noteEntry]{Storage: storage.NewMemoryStorage(), Merge: replaceNote}); !errors.Is(err, errMissingKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if _, err := NewStore(Config[noteEntry]{Storage: storage.NewMemoryStorage(), Key: "notes"}); !errors.Is(err, errMissingMerge) {
		t.Fatalf("expected missing merge error, got %v", err)
	}
}

func TestStoresCannotShareKeyWithDifferentSchemas(t *testing.T) {
	keyspace := storage.NewKeyspace()
	memory := storage.NewMemoryStorage()
	if _, err := NewCart(CartConfig{Storage: memory, Keyspace: keyspace}); err != nil {
		t.Fatalf("failed to construct cart: %v", err)
	}
	_, err := NewStore(Config[noteEntry]{
		Storage:  memory,
		Key:      storage.KeyCart,
		Schema:   "notes-v1",
		Keyspace: keyspace,
		Merge:    replaceNote,
	})
	if !errors.Is(err, storage.ErrKeySchemaConflict) {
		t.Fatalf("expected schema conflict, got %v", err)
	}
}
