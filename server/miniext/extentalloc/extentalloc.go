// Package extentalloc is the coarse-grained extent allocator the mini
// allocator is built on top of. It hands out fixed-size extents and
// reference-counts them; it never knows anything about the pages,
// keys, or metadata chains the mini allocator layers on top.
package extentalloc

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zhukovaskychina/miniext/logger"
)

// Allocator is the extent allocator capability set the mini allocator
// consumes: allocate a fresh extent, bump a refcount, read a refcount.
// Decrementing a refcount to free an extent is deliberately not part of
// this surface. That path runs through the page cache's Dealloc
// instead, which is the only thing allowed to observe "refcount
// reached zero".
type Allocator interface {
	AllocExtent() (addr uint64, err error)
	IncRefcount(addr uint64)
	GetRefcount(addr uint64) uint8
}

// ErrExhausted is returned when the extent space has no extents left to
// hand out. The mini allocator treats this as fatal.
var ErrExhausted = fmt.Errorf("extentalloc: extent space exhausted")

// ExtentStore is a concrete, in-memory Allocator. It tracks one refcount
// per extent the way InnoDB's XDES page tracks one descriptor per extent
// in a space: a free list for recycling, and a monotonic high-water mark
// for extents never before touched.
type ExtentStore struct {
	mu sync.Mutex

	extentSize uint64
	capacity   uint64 // total extents the backing space can hold, 0 = unbounded

	nextFresh uint64           // next never-used extent address
	free      []uint64         // addresses returned to refcount 0, ready for reuse
	refcounts map[uint64]*uint32 // addr -> refcount, absent entries are treated as 0
}

// NewExtentStore creates an extent store carving extentSize-byte extents
// out of an address space with room for capacity extents (0 means
// unbounded, suitable for tests).
func NewExtentStore(extentSize uint64, capacity uint64) *ExtentStore {
	return &ExtentStore{
		extentSize: extentSize,
		capacity:   capacity,
		nextFresh:  extentSize,
		refcounts:  make(map[uint64]*uint32),
	}
}

// AllocExtent returns a fresh extent address with refcount 1. Recycled
// (fully-freed) extents are preferred over growing the arena, matching
// ExtentManager.AllocateExtent's free-list-first policy. Address 0 is
// never handed out: the mini allocator uses 0 to mean "no page".
func (s *ExtentStore) AllocExtent() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var addr uint64
	if n := len(s.free); n > 0 {
		addr = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		if s.capacity != 0 && s.nextFresh > s.capacity*s.extentSize {
			return 0, ErrExhausted
		}
		addr = s.nextFresh
		s.nextFresh += s.extentSize
	}

	rc := new(uint32)
	*rc = 1
	s.refcounts[addr] = rc
	logger.Debugf("extentalloc: allocated extent %d", addr)
	return addr, nil
}

// IncRefcount bumps the refcount of an extent this store previously
// handed out. Incrementing an unknown extent is a caller bug.
func (s *ExtentStore) IncRefcount(addr uint64) {
	s.mu.Lock()
	rc, ok := s.refcounts[addr]
	s.mu.Unlock()
	if !ok {
		logger.Errorf("extentalloc: IncRefcount on unknown extent %d", addr)
		panic(fmt.Errorf("extentalloc: unknown extent %d", addr))
	}
	atomic.AddUint32(rc, 1)
}

// GetRefcount reads the current refcount, 0 if the extent is unknown
// (never allocated, or already freed back to the free list).
func (s *ExtentStore) GetRefcount(addr uint64) uint8 {
	s.mu.Lock()
	rc, ok := s.refcounts[addr]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return uint8(atomic.LoadUint32(rc))
}

// DecRefcount drops an extent's refcount by one and, if it reaches zero,
// recycles the address onto the free list. It reports whether the
// refcount reached zero, which is exactly the signal the page cache's
// Dealloc needs to surface, and is why this method lives outside the
// exported Allocator interface: only the cache is meant to call it.
func (s *ExtentStore) DecRefcount(addr uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.refcounts[addr]
	if !ok {
		logger.Errorf("extentalloc: DecRefcount on unknown extent %d", addr)
		panic(fmt.Errorf("extentalloc: unknown extent %d", addr))
	}
	left := atomic.AddUint32(rc, ^uint32(0))
	if left == 0 {
		delete(s.refcounts, addr)
		s.free = append(s.free, addr)
		logger.Debugf("extentalloc: extent %d refcount reached zero", addr)
		return true
	}
	return false
}

// ExtentSize reports the fixed extent size this store was built with.
func (s *ExtentStore) ExtentSize() uint64 {
	return s.extentSize
}
