// Package miniext implements a fine-grained per-page allocator built on
// top of a coarse-grained extent allocator (server/miniext/extentalloc)
// and a buffered page cache (server/miniext/pagecache). A MiniAllocator
// manages one logical allocation stream (typically backing one B-tree
// or log) by carving individual pages out of whole extents reserved
// from the underlying extent allocator, while maintaining a persistent
// linked list of metadata pages recording which extents belong to the
// stream and over what key ranges their data falls. Multiple batches
// within one MiniAllocator allocate independently in parallel, sharing
// the same metadata list.
//
// It does not recover space at page granularity (deallocation is at
// extent granularity only, via RangeRelease), does not order batches
// against each other, and does not compact or rebalance its metadata
// chain.
package miniext

import (
	"github.com/zhukovaskychina/miniext/server/miniext/dataconfig"
	"github.com/zhukovaskychina/miniext/server/miniext/pagecache"
)

// MiniMaxBatches bounds num_batches for any one MiniAllocator.
const MiniMaxBatches = 64

// MiniWait is the per-batch cursor's single-slot spinlock sentinel. No
// valid next_addr value can ever collide with it: a batch cursor is
// either a multiple of the extent size (awaiting refill; 0 before the
// first Alloc) or a page address at least one page size above an extent
// base, and extents are never one byte long.
const MiniWait = 1

// batchState is one batch's allocation cursor. It is never persisted;
// callers reconstruct it on load by simply calling Init again.
type batchState struct {
	nextAddr     uint64 // CAS'd against MiniWait; the cursor's spinlock
	nextExtent   uint64 // pre-reserved, never-consumed extent held in reserve
	lastMetaAddr uint64 // metadata page holding this batch's most recent entry
	lastMetaPos  uint32 // that entry's byte offset, for end_key backfill
}

// MiniAllocator is the in-memory handle to one allocation stream.
type MiniAllocator struct {
	cache    pagecache.Cache
	dataCfg  dataconfig.Config
	pageType pagecache.PageType

	numBatches int

	metaHead uint64 // immutable once set
	metaTail uint64 // only advances; read/written via sync/atomic

	batches []batchState
}

// NumBatches reports how many independent allocation cursors this mini
// allocator was configured with.
func (m *MiniAllocator) NumBatches() int {
	return m.numBatches
}

// MetaHead is the address of the first metadata page in the chain. It
// never moves for the lifetime of the mini allocator.
func (m *MiniAllocator) MetaHead() uint64 {
	return m.metaHead
}
