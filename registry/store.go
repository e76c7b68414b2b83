package registry

import (
	"context"
	"sync"
)

// Store is the substrate holding records. Implementations must make Insert an
// atomic insert-if-absent: when the key is present Insert returns
// ErrAlreadyRegistered and leaves the stored record untouched.
type Store interface {
	Insert(ctx context.Context, key RecordKey, record Record) error
	Get(ctx context.Context, key RecordKey) (Record, error)
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, key RecordKey, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[string(key)]; exists {
		return ErrAlreadyRegistered
	}
	s.records[string(key)] = record.Clone()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key RecordKey) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[string(key)]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record.Clone(), nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
