// Package store archives terminal execution states (workflow runs, loops)
// so they remain queryable after leaving the engines' active indexes.
package store

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var (
	// ErrNotFound is returned when no value is stored under an id.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidID is returned for empty ids.
	ErrInvalidID = errors.New("store: invalid id")
)

// Store persists values of type T by id.
type Store[T any] interface {
	Save(ctx context.Context, id string, v T) error
	Load(ctx context.Context, id string) (T, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// InMemory is a process-local Store safe for concurrent use.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

var _ Store[int] = (*InMemory[int])(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory[T any]() *InMemory[T] {
	return &InMemory[T]{items: make(map[string]T)}
}

// Save stores v under id, replacing any previous value.
func (s *InMemory[T]) Save(_ context.Context, id string, v T) error {
	if id == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = v
	return nil
}

// Load returns the value stored under id.
func (s *InMemory[T]) Load(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return v, nil
}

// Delete removes id. Deleting a missing id is not an error.
func (s *InMemory[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

// List returns all stored ids in lexical order.
func (s *InMemory[T]) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
