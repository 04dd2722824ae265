package storage

import (
	"context"
	"fmt"
	"sync"

	storefronterrors "github.com/abgdnv/tarpets/internal/errors"
)

// InMemoryStore keeps slots in process memory. Values larger than maxValueBytes are rejected.
type InMemoryStore struct {
	mu            sync.RWMutex
	slots         map[string][]byte
	maxValueBytes int
}

// NewInMemoryStore creates an empty store. A non-positive maxValueBytes disables the limit.
func NewInMemoryStore(maxValueBytes int) *InMemoryStore {
	return &InMemoryStore{
		slots:         make(map[string][]byte),
		maxValueBytes: maxValueBytes,
	}
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.slots[key]
	if !ok {
		return nil, storefronterrors.ErrSlotNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *InMemoryStore) Put(_ context.Context, key string, value []byte) error {
	if s.maxValueBytes > 0 && len(value) > s.maxValueBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", storefronterrors.ErrQuotaExceeded, len(value), s.maxValueBytes)
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = stored
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}
