package pagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhukovaskychina/miniext/server/miniext/extentalloc"
)

const (
	testPageSize   = 256
	testExtentSize = 1024
)

func newTestCache(t *testing.T) (*ArenaCache, *extentalloc.ExtentStore) {
	t.Helper()
	alloc := extentalloc.NewExtentStore(testExtentSize, 0)
	return NewArenaCache(testPageSize, testExtentSize, alloc), alloc
}

func TestNewArenaCacheRejectsMisalignedSizes(t *testing.T) {
	alloc := extentalloc.NewExtentStore(1000, 0)
	assert.Panics(t, func() {
		NewArenaCache(300, 1000, alloc)
	})
}

func TestAllocPageAndGetShareStorage(t *testing.T) {
	c, _ := newTestCache(t)

	h1 := c.AllocPage(0, 0)
	h1.Data()[0] = 0x42
	c.Unget(h1)

	h2 := c.Get(0, true, 0)
	assert.Equal(t, byte(0x42), h2.Data()[0])
	c.Unget(h2)
}

func TestClaimExclusivity(t *testing.T) {
	c, _ := newTestCache(t)
	h1 := c.Get(0, true, 0)
	h2 := c.Get(0, true, 0)

	require.True(t, c.Claim(h1))
	assert.False(t, c.Claim(h2), "a second claim on an already-claimed page must fail")

	c.Unclaim(h1)
	assert.True(t, c.Claim(h2), "claim must succeed again once released")

	c.Unclaim(h2)
	c.Unget(h1)
	c.Unget(h2)
}

func TestUngetUnderflowPanics(t *testing.T) {
	c, _ := newTestCache(t)
	h := c.Get(0, true, 0)
	c.Unget(h)
	assert.Panics(t, func() {
		c.Unget(h)
	})
}

func TestDeallocDropsPagesOnZeroRefcount(t *testing.T) {
	c, alloc := newTestCache(t)
	base, err := alloc.AllocExtent()
	require.NoError(t, err)

	h := c.AllocPage(base, 0)
	h.Data()[0] = 1
	c.Unget(h)

	zero := c.Dealloc(base, 0)
	assert.True(t, zero)

	// The page is gone; fetching it again yields a fresh, zeroed page.
	h2 := c.Get(base, true, 0)
	assert.Equal(t, byte(0), h2.Data()[0])
	c.Unget(h2)
}

func TestDeallocKeepsPagesWhileRefcountPositive(t *testing.T) {
	c, alloc := newTestCache(t)
	base, err := alloc.AllocExtent()
	require.NoError(t, err)
	alloc.IncRefcount(base)

	h := c.AllocPage(base, 0)
	h.Data()[0] = 7
	c.Unget(h)

	zero := c.Dealloc(base, 0)
	assert.False(t, zero)

	h2 := c.Get(base, true, 0)
	assert.Equal(t, byte(7), h2.Data()[0])
	c.Unget(h2)
}

func TestPageSizeAndExtentSizeAccessors(t *testing.T) {
	c, _ := newTestCache(t)
	assert.EqualValues(t, testPageSize, c.PageSize())
	assert.EqualValues(t, testExtentSize, c.ExtentSize())
}
