package storage

import (
	"errors"
	"fmt"
	"sync"
)

// ErrKeySchemaConflict indicates two collections tried to share a key with different schemas.
var ErrKeySchemaConflict = errors.New("storage: key already claimed by another schema")

// Keyspace tracks which schema owns each storage key within one process.
type Keyspace struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewKeyspace constructs an empty keyspace.
func NewKeyspace() *Keyspace {
	return &Keyspace{owners: make(map[string]string)}
}

// Claim records schema as the owner of key. Claiming a key again with the same
// schema succeeds; claiming it with a different schema fails.
func (k *Keyspace) Claim(key, schema string) error {
	if k == nil {
		return nil
	}
	normalized, err := validateKey(key)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if owner, ok := k.owners[normalized]; ok && owner != schema {
		return fmt.Errorf("%w: %q owned by %q", ErrKeySchemaConflict, normalized, owner)
	}
	k.owners[normalized] = schema
	return nil
}
