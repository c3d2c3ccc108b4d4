package store

import (
	"slices"
	"sync"
)

// Value is a broadcast datum. Equality is what deduplication keys on.
type Value int64

// Store is the set of every value this node has seen. Values are never removed.
type Store struct {
	mu   sync.RWMutex
	data map[Value]struct{}
}

func New() *Store {
	return &Store{data: make(map[Value]struct{})}
}

// Insert adds v and reports whether it was not present before.
func (s *Store) Insert(v Value) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[v]; ok {
		return false
	}
	s.data[v] = struct{}{}
	return true
}

func (s *Store) Contains(v Value) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[v]
	return ok
}

// Snapshot returns a sorted copy of the set.
func (s *Store) Snapshot() []Value {
	s.mu.RLock()
	out := make([]Value, 0, len(s.data))
	for v := range s.data {
		out = append(out, v)
	}
	s.mu.RUnlock()

	slices.Sort(out)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
