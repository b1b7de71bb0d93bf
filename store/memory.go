package store

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]string
	saves int
}

var _ Saver = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Save(_ context.Context, content, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[path] = content
	s.saves++
}

func (s *MemoryStore) Get(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[path]

	return v, ok
}

// Saves returns how many times Save has been called.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.saves
}
