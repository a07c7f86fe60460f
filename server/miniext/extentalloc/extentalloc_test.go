package extentalloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocExtentFreshGrowth(t *testing.T) {
	s := NewExtentStore(4096, 0)

	a1, err := s.AllocExtent()
	require.NoError(t, err)
	a2, err := s.AllocExtent()
	require.NoError(t, err)

	assert.NotEqual(t, a1, a2)
	assert.EqualValues(t, 1, s.GetRefcount(a1))
	assert.EqualValues(t, 1, s.GetRefcount(a2))
}

func TestAllocExtentExhaustion(t *testing.T) {
	s := NewExtentStore(4096, 2)

	_, err := s.AllocExtent()
	require.NoError(t, err)
	_, err = s.AllocExtent()
	require.NoError(t, err)

	_, err = s.AllocExtent()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestIncRefcount(t *testing.T) {
	s := NewExtentStore(4096, 0)
	addr, err := s.AllocExtent()
	require.NoError(t, err)

	s.IncRefcount(addr)
	s.IncRefcount(addr)
	assert.EqualValues(t, 3, s.GetRefcount(addr))
}

func TestIncRefcountUnknownPanics(t *testing.T) {
	s := NewExtentStore(4096, 0)
	assert.Panics(t, func() {
		s.IncRefcount(12345)
	})
}

func TestGetRefcountUnknownIsZero(t *testing.T) {
	s := NewExtentStore(4096, 0)
	assert.EqualValues(t, 0, s.GetRefcount(999))
}

func TestDecRefcountToZeroRecycles(t *testing.T) {
	s := NewExtentStore(4096, 2)
	a1, err := s.AllocExtent()
	require.NoError(t, err)

	zero := s.DecRefcount(a1)
	assert.True(t, zero)
	assert.EqualValues(t, 0, s.GetRefcount(a1))

	// Recycled address is handed back out before growing further.
	a2, err := s.AllocExtent()
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
}

func TestDecRefcountAboveOneDoesNotRecycle(t *testing.T) {
	s := NewExtentStore(4096, 0)
	addr, err := s.AllocExtent()
	require.NoError(t, err)
	s.IncRefcount(addr)

	assert.False(t, s.DecRefcount(addr))
	assert.EqualValues(t, 1, s.GetRefcount(addr))
}

func TestDecRefcountUnknownPanics(t *testing.T) {
	s := NewExtentStore(4096, 0)
	assert.Panics(t, func() {
		s.DecRefcount(777)
	})
}

func TestConcurrentAllocExtentUnique(t *testing.T) {
	s := NewExtentStore(4096, 0)

	const n = 64
	addrs := make(chan uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			addr, err := s.AllocExtent()
			require.NoError(t, err)
			addrs <- addr
		}()
	}
	wg.Wait()
	close(addrs)

	seen := make(map[uint64]bool)
	for a := range addrs {
		assert.False(t, seen[a], "duplicate extent address %d", a)
		seen[a] = true
	}
	assert.Len(t, seen, n)
}
