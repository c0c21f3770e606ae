// Package annotation keeps declaration-time metadata per (key, target).
//
// Registrars append descriptors here during the explicit registration pass; the
// loader and the event services read them once when they start.
package annotation

import "sync"

// Key identifies a metadata slot, e.g. one event category group.
type Key string

// Target identifies the owner of a metadata slot.
type Target string

type slot struct {
	key    Key
	target Target
}

type Store struct {
	mu      sync.RWMutex
	entries map[slot][]any
	keys    []Key
	seen    map[Key]struct{}
}

func NewStore() *Store {
	return &Store{
		entries: make(map[slot][]any),
		seen:    make(map[Key]struct{}),
	}
}

// Get returns a copy of the values stored at (key, target) that are of type T.
// Missing slots yield an empty, non-nil slice.
func Get[T any](s *Store, key Key, target Target) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := s.entries[slot{key, target}]
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if tv, ok := v.(T); ok {
			out = append(out, tv)
		}
	}
	return out
}

// Set replaces the values stored at (key, target).
func Set[T any](s *Store, key Key, target Target, values []T) {
	raw := make([]any, 0, len(values))
	for _, v := range values {
		raw = append(raw, v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(key)
	s.entries[slot{key, target}] = raw
}

// Append adds one value at the end of (key, target).
func Append[T any](s *Store, key Key, target Target, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track(key)
	sl := slot{key, target}
	s.entries[sl] = append(s.entries[sl], value)
}

// Len reports how many values are stored at (key, target).
func (s *Store) Len(key Key, target Target) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[slot{key, target}])
}

// Keys lists every key that has been written, in first-write order.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Store) track(key Key) {
	if _, ok := s.seen[key]; ok {
		return
	}
	s.seen[key] = struct{}{}
	s.keys = append(s.keys, key)
}
