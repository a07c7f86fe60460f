package miniext

import (
	"fmt"
	"sync/atomic"

	"github.com/zhukovaskychina/miniext/logger"
	"github.com/zhukovaskychina/miniext/server/miniext/dataconfig"
	"github.com/zhukovaskychina/miniext/server/miniext/pagecache"
)

// Init creates or loads a mini allocator. metaTail == 0 means create: a
// fresh metadata page is cache-allocated at metaHead (the caller picks
// that address, typically a fresh extent of its own). metaTail != 0
// means load: the existing tail is pinned and claim-locked just long
// enough to confirm it is readable; existing entries are never
// rewritten. Either way, one fresh extent is reserved into every
// batch's reserve slot, and Init returns the extent reserved for batch
// 0, which callers typically record as the root of whatever structure
// they're building on top of the mini allocator.
//
// Init panics (an invariant violation) if numBatches is outside
// [1, MiniMaxBatches].
func Init(cache pagecache.Cache, dataCfg dataconfig.Config, metaHead, metaTail uint64, numBatches int, pageType pagecache.PageType) (*MiniAllocator, uint64) {
	if numBatches < 1 || numBatches > MiniMaxBatches {
		logger.Errorf("miniext: num_batches %d out of range [1,%d]", numBatches, MiniMaxBatches)
		panic(fmt.Errorf("%w: num_batches %d out of range [1,%d]", ErrInvariant, numBatches, MiniMaxBatches))
	}

	m := &MiniAllocator{
		cache:      cache,
		dataCfg:    dataCfg,
		pageType:   pageType,
		numBatches: numBatches,
		metaHead:   metaHead,
		batches:    make([]batchState, numBatches),
	}

	if metaTail == 0 {
		m.createChain(metaHead)
	} else {
		m.loadChain(metaTail)
	}

	for b := 0; b < numBatches; b++ {
		ext, err := cache.Allocator().AllocExtent()
		if err != nil {
			logger.Errorf("miniext: failed to reserve extent for batch %d: %v", b, err)
			panic(fmt.Errorf("%w: %v", ErrExtentExhausted, err))
		}
		m.batches[b].nextExtent = ext
		logger.Debugf("miniext: reserved extent %d for batch %d", ext, b)
	}

	return m, m.batches[0].nextExtent
}

func (m *MiniAllocator) createChain(metaHead uint64) {
	h := m.cache.AllocPage(metaHead, m.pageType)
	if !m.cache.Claim(h) {
		panic(fmt.Errorf("%w: could not claim freshly allocated metadata page %d", ErrInvariant, metaHead))
	}
	m.cache.Lock(h)
	writeHeader(h.Data(), metaHeader{nextMetaAddr: 0, pos: metaHeaderSize, numEntries: 0})
	m.cache.MarkDirty(h)
	m.cache.Unlock(h)
	m.cache.Unclaim(h)
	m.cache.Unget(h)

	atomic.StoreUint64(&m.metaTail, metaHead)
}

func (m *MiniAllocator) loadChain(metaTail uint64) {
	h := m.claimLockPage(metaTail)
	_ = readHeader(h.Data())
	m.releasePage(h)

	atomic.StoreUint64(&m.metaTail, metaTail)
}
