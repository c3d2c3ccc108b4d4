package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIsIdempotent(t *testing.T) {
	s := New()

	require.True(t, s.Insert(42))
	require.False(t, s.Insert(42))

	assert.True(t, s.Contains(42))
	assert.Equal(t, []Value{42}, s.Snapshot())
	assert.Equal(t, 1, s.Len())
}

func TestContainsUnknown(t *testing.T) {
	s := New()
	s.Insert(1)
	assert.False(t, s.Contains(2))
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	s := New()
	for _, v := range []Value{5, -3, 17, 0} {
		s.Insert(v)
	}

	snap := s.Snapshot()
	require.Equal(t, []Value{-3, 0, 5, 17}, snap)

	// mutating the snapshot must not leak into the store
	snap[0] = 99
	assert.False(t, s.Contains(99))
	assert.True(t, s.Contains(-3))
}

func TestEmptySnapshot(t *testing.T) {
	snap := New().Snapshot()
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestConcurrentInsert_ExactlyOneWinner(t *testing.T) {
	s := New()

	const G = 16
	const N = 500

	var wg sync.WaitGroup
	wins := make([]int, G)
	for gid := range G {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			for i := range N {
				if s.Insert(Value(i)) {
					wins[gid]++
				}
				_ = s.Snapshot()
			}
		}(gid)
	}
	wg.Wait()

	total := 0
	for _, w := range wins {
		total += w
	}
	assert.Equal(t, N, total, "each value must be reported new exactly once")
	assert.Equal(t, N, s.Len())
}
