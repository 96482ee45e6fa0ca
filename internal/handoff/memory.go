package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotFound is returned when a key was never put in the run's store.
	ErrNotFound = errors.New("handoff key not found")
)

// Store is the per-run key-value exchange between pipeline steps.
// Values are JSON encoded so every backend hands back the same shape.
type Store interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dst any) error
}

// Factory builds a Store scoped to a single run.
type Factory func(runID string) Store

// MemoryStore is a concurrency-safe in-memory Store. Each run gets its own instance.
type MemoryStore struct {
	mu sync.RWMutex

	// key: handoff key, value: JSON payload
	data map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// NewMemoryFactory returns a Factory handing out a fresh MemoryStore per run.
func NewMemoryFactory() Factory {
	return func(string) Store {
		return NewMemoryStore()
	}
}

// Put stores value under key, replacing any previous value.
func (s *MemoryStore) Put(_ context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = b
	return nil
}

// Get decodes the value stored under key into dst.
func (s *MemoryStore) Get(_ context.Context, key string, dst any) error {
	s.mu.RLock()
	b, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Delete removes key; deleting an absent key is a no-op.
func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
}

// Len returns the number of keys currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

// Clear drops every key.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string][]byte)
	return nil
}
