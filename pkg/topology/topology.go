package topology

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrInvalidStride = errors.New("stride must be greater than 1")
	ErrUnknownNode   = errors.New("node is not part of the topology")
)

// Mode selects whether harness-supplied topologies replace the computed one.
type Mode string

const (
	// ModeOverride installs harness topologies as soon as they arrive.
	ModeOverride Mode = "override"
	// ModeComputed keeps the stride-derived neighbours and ignores overrides.
	ModeComputed Mode = "computed"
)

func (m Mode) Valid() bool {
	return m == ModeOverride || m == ModeComputed
}

// Compute returns self's neighbours in a graph over nodeIDs where every node
// links to its successor and to the nodes stride, 2*stride, ... positions
// ahead of it in sorted order.
//
// Out-degree is ceil(n/stride) and every node is reachable from every other
// in at most stride hops: a distance d = q*stride + r takes one jump of
// q*stride followed by r successor steps.
func Compute(nodeIDs []string, self string, stride int) ([]string, error) {
	if stride < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidStride, stride)
	}

	ids := slices.Clone(nodeIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	i, ok := slices.BinarySearch(ids, self)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, self)
	}
	n := len(ids)

	out := make([]string, 0, n/stride+1)
	add := func(off int) {
		id := ids[(i+off)%n]
		if id != self && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}

	add(1)
	for off := stride; off < n; off += stride {
		add(off)
	}
	return out, nil
}

// Diff lists the neighbours gained and lost between two neighbour lists.
type Diff struct {
	Added   []string
	Removed []string
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Manager holds this node's current neighbour list.
type Manager struct {
	mu         sync.RWMutex
	mode       Mode
	stride     int
	self       string
	neighbors  []string
	overridden bool
}

func NewManager(stride int, mode Mode) *Manager {
	if !mode.Valid() {
		mode = ModeOverride
	}
	return &Manager{stride: stride, mode: mode}
}

// Init computes the neighbour list for self. An override that arrived before
// Init is kept.
func (m *Manager) Init(self string, nodeIDs []string) (Diff, error) {
	computed, err := Compute(nodeIDs, self, m.stride)
	if err != nil {
		return Diff{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.self = self
	if m.overridden {
		return Diff{}, nil
	}
	return m.replace(computed), nil
}

// AcceptOverride installs the harness-supplied neighbours of self. In
// ModeComputed the override is ignored and an empty Diff is returned.
func (m *Manager) AcceptOverride(topo map[string][]string) (Diff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == ModeComputed {
		return Diff{}, nil
	}
	if m.self == "" {
		return Diff{}, fmt.Errorf("%w: topology received before init", ErrUnknownNode)
	}
	listed, ok := topo[m.self]
	if !ok {
		return Diff{}, fmt.Errorf("%w: no entry for %q", ErrUnknownNode, m.self)
	}

	next := make([]string, 0, len(listed))
	for _, id := range listed {
		if id != "" && id != m.self && !slices.Contains(next, id) {
			next = append(next, id)
		}
	}
	m.overridden = true
	return m.replace(next), nil
}

// replace must be called with mu held.
func (m *Manager) replace(next []string) Diff {
	var d Diff
	for _, id := range next {
		if !slices.Contains(m.neighbors, id) {
			d.Added = append(d.Added, id)
		}
	}
	for _, id := range m.neighbors {
		if !slices.Contains(next, id) {
			d.Removed = append(d.Removed, id)
		}
	}
	m.neighbors = next
	return d
}

func (m *Manager) Neighbors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.neighbors)
}

func (m *Manager) IsNeighbor(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.neighbors, id)
}

func (m *Manager) Degree() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.neighbors)
}

// Overridden reports whether a harness topology is in effect.
func (m *Manager) Overridden() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overridden
}
