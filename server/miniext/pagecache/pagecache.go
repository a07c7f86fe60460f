// Package pagecache is the buffered page cache the mini allocator is
// built on top of: fixed-size pages addressed by a byte offset into an
// extent-addressed arena, with the pin -> claim -> lock ->
// unlock/unclaim/unpin access protocol the mini allocator's locking
// discipline requires.
//
// This is a deliberately simple, in-memory stand-in for the real thing
// (block I/O, eviction, and checkpointing are all out of scope here);
// it exists so the mini allocator has a real collaborator to run and be
// tested against.
package pagecache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/miniext/logger"
	"github.com/zhukovaskychina/miniext/server/miniext/extentalloc"
)

// PageType tags a page for the cache's own bookkeeping (currently just
// diagnostics); the mini allocator passes through a type it chooses for
// its own metadata pages.
type PageType uint8

// Handle is an opaque reference to a page held pinned in the cache. A
// Handle is only valid between the Get/AllocPage call that produced it
// and the matching Unget.
type Handle struct {
	Addr uint64
	typ  PageType
	pg   *page
}

// Data returns the page's fixed-size content buffer. Callers must hold
// at least a claim (ordinarily a lock) before writing to it.
func (h *Handle) Data() []byte {
	return h.pg.data
}

type page struct {
	addr    uint64
	data    []byte
	dirty   uint32 // atomic bool
	claimed uint32 // atomic bool: non-blocking upgrade intent
	mu      sync.RWMutex
	pins    int32
}

// Cache is the page cache capability set the mini allocator consumes.
type Cache interface {
	PageSize() uint64
	ExtentSize() uint64

	AllocPage(addr uint64, typ PageType) *Handle
	Get(addr uint64, blocking bool, typ PageType) *Handle
	Claim(h *Handle) bool
	Lock(h *Handle)
	Unlock(h *Handle)
	Unclaim(h *Handle)
	Unget(h *Handle)
	MarkDirty(h *Handle)

	Dealloc(base uint64, typ PageType) bool
	ExtentSync(base uint64, pagesOutstanding *int)
	Prefetch(base uint64, typ PageType)

	Allocator() extentalloc.Allocator
}

// ArenaCache is a concrete Cache backed by an in-memory, extent-addressed
// arena. Pages are created lazily on first Get/AllocPage and stay in the
// arena until Dealloc drops their extent's refcount to zero; there is no
// eviction, which belongs to a real page cache, not this subsystem.
type ArenaCache struct {
	pageSize   uint64
	extentSize uint64

	alloc *extentalloc.ExtentStore

	mu    sync.Mutex
	pages map[uint64]*page
}

// NewArenaCache creates a cache of pageSize-byte pages grouped into
// extentSize-byte extents, backed by alloc for extent reservation and
// refcounting.
func NewArenaCache(pageSize, extentSize uint64, alloc *extentalloc.ExtentStore) *ArenaCache {
	if extentSize%pageSize != 0 {
		panic(fmt.Errorf("pagecache: extent size %d is not a multiple of page size %d", extentSize, pageSize))
	}
	return &ArenaCache{
		pageSize:   pageSize,
		extentSize: extentSize,
		alloc:      alloc,
		pages:      make(map[uint64]*page),
	}
}

func (c *ArenaCache) PageSize() uint64   { return c.pageSize }
func (c *ArenaCache) ExtentSize() uint64 { return c.extentSize }

func (c *ArenaCache) Allocator() extentalloc.Allocator { return c.alloc }

func (c *ArenaCache) getOrCreate(addr uint64) *page {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[addr]
	if !ok {
		p = &page{addr: addr, data: make([]byte, c.pageSize)}
		c.pages[addr] = p
	}
	return p
}

// AllocPage creates a brand-new page at addr and pins it.
func (c *ArenaCache) AllocPage(addr uint64, typ PageType) *Handle {
	p := c.getOrCreate(addr)
	atomic.AddInt32(&p.pins, 1)
	logger.Debugf("pagecache: alloc page %d (type=%d)", addr, typ)
	return &Handle{Addr: addr, typ: typ, pg: p}
}

// Get pins an existing page. blocking is accepted for interface parity
// with a real I/O-backed cache; this in-memory cache never blocks.
func (c *ArenaCache) Get(addr uint64, blocking bool, typ PageType) *Handle {
	p := c.getOrCreate(addr)
	atomic.AddInt32(&p.pins, 1)
	return &Handle{Addr: addr, typ: typ, pg: p}
}

// Claim attempts the non-blocking upgrade intent; false means some other
// caller already holds it.
func (c *ArenaCache) Claim(h *Handle) bool {
	return atomic.CompareAndSwapUint32(&h.pg.claimed, 0, 1)
}

// Lock waits for any outstanding readers to drain and takes exclusive
// access. Callers must hold a claim first.
func (c *ArenaCache) Lock(h *Handle) {
	h.pg.mu.Lock()
}

func (c *ArenaCache) Unlock(h *Handle) {
	h.pg.mu.Unlock()
}

// Unclaim releases the upgrade intent taken by Claim.
func (c *ArenaCache) Unclaim(h *Handle) {
	atomic.StoreUint32(&h.pg.claimed, 0)
}

// Unget releases the pin taken by Get/AllocPage.
func (c *ArenaCache) Unget(h *Handle) {
	if atomic.AddInt32(&h.pg.pins, -1) < 0 {
		panic(fmt.Errorf("pagecache: Unget underflow on page %d", h.Addr))
	}
}

func (c *ArenaCache) MarkDirty(h *Handle) {
	atomic.StoreUint32(&h.pg.dirty, 1)
}

// Dealloc hands an extent back to the allocator, decrementing its
// refcount, and reports whether that refcount reached zero. On reaching
// zero, every cached page inside the extent is dropped from the arena.
func (c *ArenaCache) Dealloc(base uint64, typ PageType) bool {
	zero := c.alloc.DecRefcount(base)
	if zero {
		c.mu.Lock()
		for a := base; a < base+c.extentSize; a += c.pageSize {
			delete(c.pages, a)
		}
		c.mu.Unlock()
		logger.Debugf("pagecache: extent %d fully deallocated", base)
	}
	return zero
}

// ExtentSync is a no-op in this in-memory cache; pagesOutstanding, if
// non-nil, is left untouched since nothing is ever actually dirty on
// disk here. A disk-backed cache would flush every dirty page in the
// extent and decrement the counter as each completes.
func (c *ArenaCache) ExtentSync(base uint64, pagesOutstanding *int) {}

// Prefetch is a no-op in this in-memory cache; a disk-backed cache would
// issue readahead for the extent starting at base.
func (c *ArenaCache) Prefetch(base uint64, typ PageType) {}
