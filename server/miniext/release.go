package miniext

import (
	"fmt"
	"sync/atomic"

	"github.com/zhukovaskychina/miniext/logger"
)

// Release retires batch: it deallocates the batch's outstanding,
// never-consumed reserve extent (next_extent[b]) through the cache,
// and, if key is non-empty, backfills the batch's most recent metadata
// entry's end_key with it, closing off that entry's range the same way
// a subsequent Alloc's refill would have. It does not walk the
// metadata chain and does not touch any entry's released flag.
// Retiring a batch's reserve is not the same as releasing the extents
// it already handed out, which callers do through RangeRelease once
// they are done with the data in them.
//
// Release panics if batch is out of range, matching every other
// caller-contract check in this module.
func (m *MiniAllocator) Release(batch int, key []byte) {
	if batch < 0 || batch >= m.numBatches {
		logger.Errorf("miniext: release batch %d out of range [0,%d)", batch, m.numBatches)
		panic(fmt.Errorf("%w: batch %d out of range [0,%d)", ErrInvariant, batch, m.numBatches))
	}

	b := &m.batches[batch]
	observed := m.acquireCursor(b)

	reserve := b.nextExtent
	lastAddr := b.lastMetaAddr
	lastPos := b.lastMetaPos

	// Nothing left to hand out from this batch; restore the cursor
	// as-is rather than advancing it, since Release does not consume a
	// page the way Alloc's fast path does.
	atomic.StoreUint64(&b.nextAddr, observed)

	m.cache.Dealloc(reserve, m.pageType)
	logger.Debugf("miniext: released batch %d reserve extent %d", batch, reserve)

	if len(key) > 0 && lastAddr != 0 {
		h := m.claimLockPage(lastAddr)
		writeEntryEndKey(h.Data(), int(lastPos), key)
		m.cache.MarkDirty(h)
		m.releasePage(h)
	}
}
