package dlock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is an in-process lock store. Several independent instances
// form a quorum for a single-process deployment; external kv stores plug in
// behind the same interface for a distributed one.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFn   func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]memoryEntry{},
		nowFn:   time.Now,
	}
}

// TryAcquire implements Store.
func (store *MemoryStore) TryAcquire(ctx context.Context, key string, token string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	now := store.nowFn()
	entry, held := store.entries[key]
	if held && entry.token != token && now.Before(entry.expiresAt) {
		return fmt.Errorf("%w: key %q", ErrLockUnavailable, key)
	}
	store.entries[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return nil
}

// Release implements Store.
func (store *MemoryStore) Release(ctx context.Context, key string, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, held := store.entries[key]
	if !held || entry.token != token {
		return fmt.Errorf("%w: key %q", ErrLockNotHeld, key)
	}
	if store.nowFn().After(entry.expiresAt) {
		delete(store.entries, key)
		return fmt.Errorf("%w: key %q expired", ErrLockNotHeld, key)
	}
	delete(store.entries, key)
	return nil
}
