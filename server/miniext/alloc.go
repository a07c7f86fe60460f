package miniext

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zhukovaskychina/miniext/logger"
	"github.com/zhukovaskychina/miniext/server/miniext/dataconfig"
	"github.com/zhukovaskychina/miniext/server/miniext/pagecache"
)

// backoff implements the bounded-doubling spin used both for the
// per-batch cursor's CAS spinlock and for cache claim contention:
// start at one unit, double on every failed attempt, cap at 1024
// units.
type backoff struct {
	d time.Duration
}

func newBackoff() *backoff {
	return &backoff{d: time.Microsecond}
}

func (b *backoff) wait() {
	time.Sleep(b.d)
	b.d *= 2
	if b.d > 1024*time.Microsecond {
		b.d = 1024 * time.Microsecond
	}
}

// claimLockPage pins, claims, and locks a known, already-assigned page
// address. Page addresses themselves never move once assigned, so
// unlike claimLockTail there is nothing to re-check after the claim.
func (m *MiniAllocator) claimLockPage(addr uint64) *pagecache.Handle {
	bo := newBackoff()
	for {
		h := m.cache.Get(addr, true, m.pageType)
		if !m.cache.Claim(h) {
			m.cache.Unget(h)
			bo.wait()
			continue
		}
		m.cache.Lock(h)
		return h
	}
}

// claimLockTail pins, claims, and locks whatever the metadata tail
// currently is. The tail can move between the pin and the claim (if
// another batch just linked a new tail page while this one was
// spinning), so after a successful claim it re-checks that meta_tail
// still matches what was pinned; on a mismatch it backs off and retries
// against the new tail.
func (m *MiniAllocator) claimLockTail() (*pagecache.Handle, uint64) {
	bo := newBackoff()
	for {
		tailAddr := atomic.LoadUint64(&m.metaTail)
		h := m.cache.Get(tailAddr, true, m.pageType)
		if !m.cache.Claim(h) {
			m.cache.Unget(h)
			bo.wait()
			continue
		}
		m.cache.Lock(h)
		if atomic.LoadUint64(&m.metaTail) != tailAddr {
			m.cache.Unlock(h)
			m.cache.Unclaim(h)
			m.cache.Unget(h)
			bo.wait()
			continue
		}
		return h, tailAddr
	}
}

func (m *MiniAllocator) releasePage(h *pagecache.Handle) {
	m.cache.Unlock(h)
	m.cache.Unclaim(h)
	m.cache.Unget(h)
}

// Alloc returns the address of the next free page in batch and advances
// its cursor. key is the lower bound of the content the caller is about
// to write into the returned page; it becomes the start_key of a new
// metadata entry iff this call triggers a fresh extent refill. A nil or
// empty key means "ignore key bookkeeping for this entry".
//
// The second return value is the batch's current reserve extent, so
// callers can start prefetching it.
//
// Alloc is safe for concurrent use across batches and across concurrent
// callers in the same batch.
func (m *MiniAllocator) Alloc(batch int, key []byte) (uint64, uint64) {
	if batch < 0 || batch >= m.numBatches {
		logger.Errorf("miniext: alloc batch %d out of range [0,%d)", batch, m.numBatches)
		panic(fmt.Errorf("%w: batch %d out of range [0,%d)", ErrInvariant, batch, m.numBatches))
	}
	if len(key) > dataconfig.MaxInlineKeySize {
		logger.Errorf("miniext: alloc key length %d exceeds %d", len(key), dataconfig.MaxInlineKeySize)
		panic(fmt.Errorf("%w: key length %d exceeds %d", ErrInvariant, len(key), dataconfig.MaxInlineKeySize))
	}

	b := &m.batches[batch]
	pageSize := m.cache.PageSize()
	extentSize := m.cache.ExtentSize()

	observed := m.acquireCursor(b)

	if observed%extentSize != 0 {
		page := observed
		reserve := b.nextExtent
		atomic.StoreUint64(&b.nextAddr, page+pageSize)
		return page, reserve
	}

	return m.allocRefill(b, key, pageSize, extentSize)
}

// acquireCursor owns the batch's per-batch cursor spinlock: it CASes
// next_addr[b] from its observed value to MiniWait and returns that
// observed value. Hold time is bounded and never overlaps a page lock.
func (m *MiniAllocator) acquireCursor(b *batchState) uint64 {
	bo := newBackoff()
	for {
		observed := atomic.LoadUint64(&b.nextAddr)
		if observed == MiniWait {
			bo.wait()
			continue
		}
		if atomic.CompareAndSwapUint64(&b.nextAddr, observed, MiniWait) {
			return observed
		}
		bo.wait()
	}
}

// allocRefill is the slow path of Alloc: the batch's current extent is
// exhausted. It reserves a fresh replacement extent, releases the
// cursor sentinel, then appends a metadata entry for the extent being
// handed out, possibly linking a new metadata tail page first and
// possibly backfilling the batch's previous entry's end_key across a
// page boundary.
func (m *MiniAllocator) allocRefill(b *batchState, key []byte, pageSize, extentSize uint64) (uint64, uint64) {
	page := b.nextExtent

	newExtent, err := m.cache.Allocator().AllocExtent()
	if err != nil {
		logger.Errorf("miniext: extent allocator exhausted during refill: %v", err)
		panic(fmt.Errorf("%w: %v", ErrExtentExhausted, err))
	}
	b.nextExtent = newExtent
	// Release the cursor sentinel before touching any cache lock: the
	// per-batch cursor must never block on disk I/O.
	atomic.StoreUint64(&b.nextAddr, page+pageSize)

	tailHandle, tailAddr := m.claimLockTail()
	hdr := readHeader(tailHandle.Data())

	if int(hdr.pos)+entryWorstCaseSize > int(pageSize) {
		tailHandle, tailAddr, hdr = m.linkNewTail(tailHandle, tailAddr, hdr, extentSize)
	}

	data := tailHandle.Data()
	entryOffset := int(hdr.pos)

	e := metaEntry{extentAddr: page}
	if len(key) > 0 {
		e.startKeyLen = uint16(len(key))
		e.startKey = key
	}
	encodeEntry(data[entryOffset:], &e)

	hdr.pos = uint32(entryOffset + e.size())
	hdr.numEntries++
	writeHeader(data, hdr)

	if len(key) > 0 && b.lastMetaAddr != 0 {
		if b.lastMetaAddr == tailAddr {
			writeEntryEndKey(data, int(b.lastMetaPos), key)
		} else {
			// Cross-page backfill: the tail is always acquired first,
			// then the prior page, so two batches backfilling into each
			// other's tails can never deadlock.
			prevHandle := m.claimLockPage(b.lastMetaAddr)
			writeEntryEndKey(prevHandle.Data(), int(b.lastMetaPos), key)
			m.cache.MarkDirty(prevHandle)
			m.releasePage(prevHandle)
		}
	}

	b.lastMetaAddr = tailAddr
	b.lastMetaPos = uint32(entryOffset)

	m.cache.MarkDirty(tailHandle)
	m.releasePage(tailHandle)

	logger.Debugf("miniext: refilled batch extent=%d meta_tail=%d pos=%d", page, tailAddr, hdr.pos)

	return page, newExtent
}

// linkNewTail allocates and links a new metadata tail page when the
// current one lacks room for another entry's worst case. It returns the
// new tail, already claimed and locked, with the old tail released.
func (m *MiniAllocator) linkNewTail(oldTail *pagecache.Handle, oldTailAddr uint64, oldHdr metaHeader, extentSize uint64) (*pagecache.Handle, uint64, metaHeader) {
	pageSize := m.cache.PageSize()

	newTailAddr := oldTailAddr + pageSize
	if newTailAddr%extentSize == 0 {
		freshExtent, err := m.cache.Allocator().AllocExtent()
		if err != nil {
			logger.Errorf("miniext: extent allocator exhausted linking new metadata tail: %v", err)
			panic(fmt.Errorf("%w: %v", ErrExtentExhausted, err))
		}
		newTailAddr = freshExtent
	}

	oldHdr.nextMetaAddr = newTailAddr
	writeHeader(oldTail.Data(), oldHdr)
	m.cache.MarkDirty(oldTail)

	newHandle := m.cache.AllocPage(newTailAddr, m.pageType)
	if !m.cache.Claim(newHandle) {
		panic(fmt.Errorf("%w: could not claim freshly allocated metadata tail %d", ErrInvariant, newTailAddr))
	}
	m.cache.Lock(newHandle)
	newHdr := metaHeader{nextMetaAddr: 0, pos: metaHeaderSize, numEntries: 0}
	writeHeader(newHandle.Data(), newHdr)

	atomic.StoreUint64(&m.metaTail, newTailAddr)
	m.releasePage(oldTail)

	return newHandle, newTailAddr, newHdr
}
