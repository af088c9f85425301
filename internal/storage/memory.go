package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStore is an in-process AssetStore for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// Error injection
	LoadError   error
	StoreError  error
	DeleteError error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func memKey(kind Kind, key string) string {
	return string(kind) + "/" + key
}

// Load returns a copy of the stored bytes.
func (s *MemoryStore) Load(ctx context.Context, kind Kind, key string) ([]byte, error) {
	if s.LoadError != nil {
		return nil, s.LoadError
	}
	if err := validate(kind, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[memKey(kind, key)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, key, ErrNotFound)
	}
	return slices.Clone(data), nil
}

// Store replaces the asset.
func (s *MemoryStore) Store(ctx context.Context, kind Kind, key string, data []byte, contentType string) error {
	if s.StoreError != nil {
		return s.StoreError
	}
	if err := validate(kind, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey(kind, key)] = slices.Clone(data)
	return nil
}

// Delete removes the asset.
func (s *MemoryStore) Delete(ctx context.Context, kind Kind, key string) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	if err := validate(kind, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, memKey(kind, key))
	return nil
}

// Has reports whether an asset exists.
func (s *MemoryStore) Has(kind Kind, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[memKey(kind, key)]
	return ok
}

// Len returns the number of stored assets.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
