package gossip

import (
	"slices"
	"sync"

	"github.com/ryandielhenn/zephyrgossip/pkg/store"
)

// PendingCache maps a neighbour to the values it has not acknowledged yet.
type PendingCache struct {
	mu      sync.RWMutex
	pending map[string]map[store.Value]struct{}
}

func NewPendingCache() *PendingCache {
	return &PendingCache{pending: make(map[string]map[store.Value]struct{})}
}

// Enqueue marks v as pending for neighbor. Enqueueing a pending value is a no-op.
func (c *PendingCache) Enqueue(neighbor string, v store.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.pending[neighbor]
	if !ok {
		set = make(map[store.Value]struct{})
		c.pending[neighbor] = set
	}
	set[v] = struct{}{}
}

// Pending returns a sorted copy of neighbor's pending set without clearing it.
func (c *PendingCache) Pending(neighbor string) []store.Value {
	c.mu.RLock()
	set := c.pending[neighbor]
	out := make([]store.Value, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	c.mu.RUnlock()

	slices.Sort(out)
	return out
}

// Acknowledge removes values from neighbor's pending set and returns how many
// were actually pending. Values that are not pending are ignored.
func (c *PendingCache) Acknowledge(neighbor string, values []store.Value) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.pending[neighbor]
	if !ok {
		return 0
	}
	removed := 0
	for _, v := range values {
		if _, ok := set[v]; ok {
			delete(set, v)
			removed++
		}
	}
	if len(set) == 0 {
		delete(c.pending, neighbor)
	}
	return removed
}

// Forget drops everything pending for neighbor and returns the count dropped.
func (c *PendingCache) Forget(neighbor string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.pending[neighbor])
	delete(c.pending, neighbor)
	return n
}

// Neighbors returns the neighbours with at least one pending value, sorted.
func (c *PendingCache) Neighbors() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.pending))
	for id, set := range c.pending {
		if len(set) > 0 {
			out = append(out, id)
		}
	}
	c.mu.RUnlock()

	slices.Sort(out)
	return out
}

func (c *PendingCache) Len(neighbor string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending[neighbor])
}

// Total is the number of pending (neighbour, value) pairs.
func (c *PendingCache) Total() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := 0
	for _, set := range c.pending {
		total += len(set)
	}
	return total
}
