// Package collection implements persisted reactive collections (cart, wishlist)
// that mirror their entries to durable storage and announce every change.
package collection

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/storefront/internal/pubsub"
	"github.com/MarcoPoloResearchLab/storefront/internal/storage"
	"github.com/MarcoPoloResearchLab/storefront/internal/telemetry"
	"go.uber.org/zap"
)

const (
	opHydrate = "collection.hydrate"
	opPersist = "collection.persist"

	operationAdd     = "add"
	operationRemove  = "remove"
	operationUpdate  = "update"
	operationClear   = "clear"
	operationToggle  = "toggle"
	operationHydrate = "hydrate"
)

var (
	errMissingStorage = errors.New("collection: storage is required")
	errMissingKey     = errors.New("collection: storage key is required")
	errMissingMerge   = errors.New("collection: merge function is required")
	noOpLogger        = zap.NewNop()
)

// Entry is an element of a persisted collection identified by an equality key.
type Entry interface {
	Key() string
}

// MergeFunc combines an incoming entry with the existing entry that has the same key.
type MergeFunc[E Entry] func(existing, incoming E) E

// ChangeEvent announces that the collection stored under Key changed.
type ChangeEvent struct {
	Key       string
	Operation string
	Count     int
	Hydrated  bool
}

// Config describes the dependencies of a Store.
type Config[E Entry] struct {
	Storage  storage.Storage
	Key      string
	Schema   string
	Keyspace *storage.Keyspace
	Merge    MergeFunc[E]
	// SeedWhenAbsent persists an empty collection when hydration finds no durable copy.
	SeedWhenAbsent bool
	Events         *pubsub.Dispatcher[ChangeEvent]
	Logger         *zap.Logger
}

type mutation[E Entry] func(entries []E) ([]E, bool)

// Store holds one named collection in memory and keeps its durable copy equal to it.
// Mutations are serialized: each one acts on the in-memory copy and then persists
// the whole collection before the change event is published.
type Store[E Entry] struct {
	mu             sync.Mutex
	storage        storage.Storage
	key            string
	merge          MergeFunc[E]
	seedWhenAbsent bool
	events         *pubsub.Dispatcher[ChangeEvent]
	logger         *zap.Logger

	entries   []E
	pending   []mutation[E]
	hydrating bool
	hydrated  bool
	ready     chan struct{}
}

// NewStore constructs an unhydrated store. Call Hydrate to load the durable copy.
func NewStore[E Entry](cfg Config[E]) (*Store[E], error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	if cfg.Key == "" {
		return nil, errMissingKey
	}
	if cfg.Merge == nil {
		return nil, errMissingMerge
	}
	if err := cfg.Keyspace.Claim(cfg.Key, cfg.Schema); err != nil {
		return nil, err
	}
	events := cfg.Events
	if events == nil {
		events = pubsub.NewDispatcher[ChangeEvent](0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store[E]{
		storage:        cfg.Storage,
		key:            cfg.Key,
		merge:          cfg.Merge,
		seedWhenAbsent: cfg.SeedWhenAbsent,
		events:         events,
		logger:         logger,
		entries:        []E{},
		ready:          make(chan struct{}),
	}, nil
}

// StorageKey returns the durable storage key backing the store.
func (s *Store[E]) StorageKey() string {
	return s.key
}

// Hydrate loads the durable copy into memory. Mutations applied before hydration
// are replayed on top of the loaded entries and then persisted. Only the first
// call does any work; hydration completes even when the load fails, in which case
// the in-memory entries stay authoritative and the load error is returned. After a
// failed load nothing is written during hydration: the durable copy is replaced
// only by the next explicit mutation.
func (s *Store[E]) Hydrate(ctx context.Context) error {
	s.mu.Lock()
	if s.hydrating {
		s.mu.Unlock()
		return nil
	}
	s.hydrating = true
	s.mu.Unlock()

	var loaded []E
	found, loadErr := storage.LoadJSON(ctx, s.storage, s.key, &loaded)
	if loadErr != nil {
		s.logError(opHydrate, "load_failed", loadErr)
		loaded = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]E, 0, len(loaded))
	entries = append(entries, loaded...)
	for _, pending := range s.pending {
		entries, _ = pending(entries)
	}
	needsWrite := loadErr == nil && (len(s.pending) > 0 || (!found && s.seedWhenAbsent))
	s.entries = entries
	s.pending = nil
	s.hydrated = true
	close(s.ready)

	if needsWrite {
		s.persistLocked(ctx)
	}
	s.publishLocked(operationHydrate)
	return loadErr
}

// HydrateInBackground starts hydration without blocking the caller.
func (s *Store[E]) HydrateInBackground(ctx context.Context) {
	go func() {
		_ = s.Hydrate(ctx)
	}()
}

// Hydrated reports whether the durable copy has been loaded into memory.
// Consumers must not present an empty collection as definitive until it is true.
func (s *Store[E]) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// WaitHydrated blocks until hydration completes or ctx is done.
func (s *Store[E]) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add inserts entry, or merges it into the entry with the same key. The collection
// is always persisted and subscribers notified. It reports whether a new entry was appended.
func (s *Store[E]) Add(ctx context.Context, entry E) bool {
	return s.mutate(ctx, operationAdd, true, func(entries []E) ([]E, bool) {
		return addEntry(entries, entry, s.merge)
	})
}

// Remove deletes the entry with key. Removing an absent key is a no-op.
func (s *Store[E]) Remove(ctx context.Context, key string) bool {
	return s.mutate(ctx, operationRemove, false, func(entries []E) ([]E, bool) {
		return removeEntry(entries, key)
	})
}

// Update replaces the entry with key by the result of fn. When fn reports keep=false
// the entry is removed. Updating an absent key is a no-op.
func (s *Store[E]) Update(ctx context.Context, key string, fn func(existing E) (updated E, keep bool)) bool {
	return s.mutate(ctx, operationUpdate, false, func(entries []E) ([]E, bool) {
		return updateEntry(entries, key, fn)
	})
}

// Toggle removes the entry with entry's key when present and appends entry otherwise.
// It reports whether the entry is present afterwards.
func (s *Store[E]) Toggle(ctx context.Context, entry E) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	present := indexOf(s.entries, entry.Key()) < 0
	s.commitLocked(ctx, operationToggle, true, func(entries []E) ([]E, bool) {
		return toggleEntry(entries, entry)
	})
	return present
}

// Clear empties the collection and overwrites the durable copy with an empty one.
func (s *Store[E]) Clear(ctx context.Context) {
	s.mutate(ctx, operationClear, true, func(entries []E) ([]E, bool) {
		return []E{}, len(entries) > 0
	})
}

// Contains reports whether an entry with key is present.
func (s *Store[E]) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.entries, key) >= 0
}

// Count returns the number of entries.
func (s *Store[E]) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Get returns the entry with key.
func (s *Store[E]) Get(key string) (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := indexOf(s.entries, key)
	if index < 0 {
		var zero E
		return zero, false
	}
	return s.entries[index], true
}

// Items returns a copy of the entries in insertion order.
func (s *Store[E]) Items() []E {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]E(nil), s.entries...)
}

// Subscribe registers for change events; cancel the subscription on teardown.
func (s *Store[E]) Subscribe(ctx context.Context) *pubsub.Subscription[ChangeEvent] {
	return s.events.Subscribe(ctx, s.key)
}

func (s *Store[E]) mutate(ctx context.Context, operation string, always bool, apply mutation[E]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx, operation, always, apply)
}

// commitLocked applies the mutation to a copy of the entries, then persists and
// publishes. Before hydration the mutation is queued for replay instead of persisted.
func (s *Store[E]) commitLocked(ctx context.Context, operation string, always bool, apply mutation[E]) bool {
	entries, changed := apply(append([]E(nil), s.entries...))
	if !changed && !always {
		return false
	}
	if entries == nil {
		entries = []E{}
	}
	s.entries = entries
	telemetry.CollectionMutation(s.key, operation)

	if s.hydrated {
		s.persistLocked(ctx)
	} else {
		s.pending = append(s.pending, apply)
	}
	s.publishLocked(operation)
	return changed
}

// persistLocked writes the whole collection. A failed write is logged and not retried;
// the in-memory entries remain authoritative for the running process.
func (s *Store[E]) persistLocked(ctx context.Context) {
	if err := storage.SaveJSON(ctx, s.storage, s.key, s.entries); err != nil {
		telemetry.StorageWriteFailure(s.key)
		s.logError(opPersist, "write_failed", err, zap.Int("count", len(s.entries)))
	}
}

func (s *Store[E]) publishLocked(operation string) {
	s.events.Publish(s.key, ChangeEvent{
		Key:       s.key,
		Operation: operation,
		Count:     len(s.entries),
		Hydrated:  s.hydrated,
	})
}

func (s *Store[E]) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("key", s.key),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("collection store error", attrs...)
}

func indexOf[E Entry](entries []E, key string) int {
	for index, entry := range entries {
		if entry.Key() == key {
			return index
		}
	}
	return -1
}

func addEntry[E Entry](entries []E, entry E, merge MergeFunc[E]) ([]E, bool) {
	index := indexOf(entries, entry.Key())
	if index < 0 {
		return append(entries, entry), true
	}
	entries[index] = merge(entries[index], entry)
	return entries, false
}

func removeEntry[E Entry](entries []E, key string) ([]E, bool) {
	index := indexOf(entries, key)
	if index < 0 {
		return entries, false
	}
	return append(entries[:index], entries[index+1:]...), true
}

func toggleEntry[E Entry](entries []E, entry E) ([]E, bool) {
	if remaining, removed := removeEntry(entries, entry.Key()); removed {
		return remaining, true
	}
	return append(entries, entry), true
}

func updateEntry[E Entry](entries []E, key string, fn func(E) (E, bool)) ([]E, bool) {
	index := indexOf(entries, key)
	if index < 0 {
		return entries, false
	}
	updated, keep := fn(entries[index])
	if !keep {
		return append(entries[:index], entries[index+1:]...), true
	}
	entries[index] = updated
	return entries, true
}
