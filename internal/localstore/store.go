// Package localstore is the on-device key/value persistence used for the
// offline mutation queue and the cached asset snapshot. It is available
// whether or not the remote store can be reached.
package localstore

import (
	"context"
	"sync"
)

// Keys used by the service.
const (
	KeyOfflineQueue = "offline_queue"
	KeyDeadLetters  = "offline_dead_letters"
	KeyCachedAssets = "cached_assets"
)

// Store is a string key/value store. Set must be durable when it returns.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is a goroutine-safe in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
