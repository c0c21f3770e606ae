package handler

import (
	"errors"
	"fmt"
	"sync"
)

var ErrAlreadyRegistered = errors.New("handler already registered")

// Registry provides a shared key -> handler registry.
type Registry[K comparable, T any] struct {
	handlers map[K]T
	order    []K
	mu       sync.RWMutex
}

func NewRegistry[K comparable, T any]() *Registry[K, T] {
	return &Registry[K, T]{
		handlers: make(map[K]T),
	}
}

// Register stores handler under key. A second registration for the same key
// is rejected with ErrAlreadyRegistered and leaves the first one in place.
func (r *Registry[K, T]) Register(key K, handler T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("key %v: %w", key, ErrAlreadyRegistered)
	}
	r.handlers[key] = handler
	r.order = append(r.order, key)
	return nil
}

// Update applies fn to the handler stored under key (zero value if absent) and
// stores the result.
func (r *Registry[K, T]) Update(key K, fn func(cur T, exists bool) T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.handlers[key]
	if !exists {
		r.order = append(r.order, key)
	}
	r.handlers[key] = fn(cur, exists)
}

func (r *Registry[K, T]) Get(key K) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[key]
	return h, ok
}

func (r *Registry[K, T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Keys returns registered keys in registration order.
func (r *Registry[K, T]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]K, len(r.order))
	copy(out, r.order)
	return out
}
