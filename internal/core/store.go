package core

import "sync"

// Store is a mutex-guarded map. Every mutation takes the write lock, so
// read-modify-write sequences expressed through PutIfAbsent and
// CompareAndDelete are atomic.
type Store[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewStore creates an empty Store.
func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{m: make(map[K]V)}
}

// Get returns the value for k.
func (s *Store[K, V]) Get(k K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[k]
	return v, ok
}

// Has reports whether k is present.
func (s *Store[K, V]) Has(k K) bool {
	_, ok := s.Get(k)
	return ok
}

// Set stores v under k, replacing any previous value.
func (s *Store[K, V]) Set(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
}

// PutIfAbsent stores v only when k is missing and reports whether it did.
func (s *Store[K, V]) PutIfAbsent(k K, v V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = v
	return true
}

// Delete removes k and returns the removed value.
func (s *Store[K, V]) Delete(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	if ok {
		delete(s.m, k)
	}
	return v, ok
}

// CompareAndDelete removes k only when match returns true for the current value.
func (s *Store[K, V]) CompareAndDelete(k K, match func(V) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[k]
	if !ok || !match(v) {
		return false
	}
	delete(s.m, k)
	return true
}

// Len returns the number of entries.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Snapshot returns a copy of the map for safe iteration.
func (s *Store[K, V]) Snapshot() map[K]V {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[K]V, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
