package slots

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultKeyTTL is how long a fired trigger key is remembered
const DefaultKeyTTL = 72 * time.Hour

// ScopeGlobal is the trigger key scope of the global pool
const ScopeGlobal = "global"

// MappingScope returns the trigger key scope of a mapping
func MappingScope(mappingID uint) string {
	return fmt.Sprintf("mapping:%d", mappingID)
}

// BuildTriggerKey builds the idempotency key of one slot firing
func BuildTriggerKey(tz, date, scope, label string) string {
	return fmt.Sprintf("trigger:%s:%s:%s:%s", tz, date, scope, label)
}

// KeyStore remembers fired trigger keys
type KeyStore interface {
	// MarkFired records the key and reports whether this call was the first to do so
	MarkFired(ctx context.Context, key string, firedAt time.Time) (bool, error)
}

// ShouldFire reports whether the key has not fired yet, marking it fired.
// Store failures fail open: a duplicate firing is stopped later by the empty-queue and quota checks.
func ShouldFire(ctx context.Context, store KeyStore, key string, now time.Time) (bool, error) {
	first, err := store.MarkFired(ctx, key, now)
	if err != nil {
		return true, err
	}
	return first, nil
}

// MemoryKeyStore is a process-local KeyStore with TTL eviction
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys *expirable.LRU[string, time.Time]
}

// NewMemoryKeyStore creates a process-local key store
func NewMemoryKeyStore(size int, ttl time.Duration) *MemoryKeyStore {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &MemoryKeyStore{keys: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

// MarkFired implements KeyStore
func (s *MemoryKeyStore) MarkFired(_ context.Context, key string, firedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys.Contains(key) {
		return false, nil
	}
	s.keys.Add(key, firedAt)
	return true, nil
}

// Len returns the number of remembered keys
func (s *MemoryKeyStore) Len() int {
	return s.keys.Len()
}

var _ KeyStore = (*MemoryKeyStore)(nil)
