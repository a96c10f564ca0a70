package storage

import (
	"context"
	"sync"
)

// Memory is an in-memory storage implementation. It lives as long as the
// process does.
type Memory[T Metadata] struct {
	images []Image[T]
	mu     sync.RWMutex
}

// NewMemory creates a new in-memory storage.
func NewMemory[T Metadata]() *Memory[T] {
	return &Memory[T]{}
}

// Save appends a copy of the image.
func (m *Memory[T]) Save(ctx context.Context, img Image[T]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = append(m.images, img.clone())
	return nil
}

// LoadAll returns a snapshot of all stored images in save order.
func (m *Memory[T]) LoadAll(ctx context.Context) ([]Image[T], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Image[T], len(m.images))
	for i, img := range m.images {
		result[i] = img.clone()
	}
	return result, nil
}

// Len returns the number of stored images.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}
