package miniext

import (
	"fmt"

	"github.com/zhukovaskychina/miniext/logger"
)

// Action is invoked once per metadata entry whose range matches a
// traversal's query. Its return value becomes that entry's new
// released state: a range-release action returns whatever the cache's
// Dealloc reports (true only once the extent's refcount actually
// reaches zero), while a read-only action (refcount bump, sync,
// prefetch, counting) always returns false, since none of those
// release anything.
type Action func(extentAddr uint64) bool

// inRange reports whether entry's closed range [startKey, endKey]
// intersects a query's closed range [qStart, qEnd] (pass an empty qEnd
// for a point query against qStart). Bounds are inclusive on both
// sides: an entry whose end_key was backfilled to the next entry's
// start_key shares that boundary value with its neighbor, and a query
// landing exactly on it must match both. The three cases are not a
// single formula: an empty query bound and an empty entry bound carry
// different meanings (query-side empty means "unbounded on that side
// of the query"; entry-side empty means "unbounded on that side of the
// entry"), and collapsing them into one expression silently drops a
// comparison in the point-query case.
func (m *MiniAllocator) inRange(e *metaEntry, qStart, qEnd []byte) bool {
	entryEnd := e.EndKey()

	switch {
	case len(qStart) == 0 && len(qEnd) == 0:
		// Unbounded query: every entry matches.
		return true

	case len(qEnd) == 0:
		// Point query against qStart: entry must contain qStart, i.e.
		// entry_start <= qStart (or entry has no lower bound) and
		// qStart <= entry_end (or entry has no upper bound).
		lowOK := len(e.startKey) == 0 || m.dataCfg.KeyCompare(e.startKey, qStart) <= 0
		highOK := len(entryEnd) == 0 || m.dataCfg.KeyCompare(qStart, entryEnd) <= 0
		return lowOK && highOK

	default:
		// Range query: the two closed ranges intersect. entry_start <=
		// qEnd (or entry unbounded below) and qStart <= entry_end (or
		// entry unbounded above).
		lowOK := len(e.startKey) == 0 || m.dataCfg.KeyCompare(e.startKey, qEnd) <= 0
		highOK := len(entryEnd) == 0 || m.dataCfg.KeyCompare(qStart, entryEnd) <= 0
		return lowOK && highOK
	}
}

// ForEach walks the entire metadata chain under claim+lock, invoking
// action on every entry whose closed range intersects [qStart, qEnd]
// (pass nil for both to match everything), and persisting action's return value
// as that entry's new released state. A matching entry that is already
// released is always an invariant violation: no range operation,
// including a purely read-only one, may be queried over a range that
// overlaps an extent already released by an earlier call.
//
// It tracks, across every entry in the whole chain (in range or not),
// whether every single one is now released; if the chain is non-empty
// and every entry turns out released, the chain's own metadata extents
// are then freed, calling action once per distinct extent base they
// occupy.
//
// A traversal that never sees an entry (an empty chain: one no Alloc has
// refilled into yet, or one whose metadata extents were already torn
// down) never re-triggers the metadata-extent teardown and reports
// false: an empty AND is vacuously true and must not be read as "fully
// released".
func (m *MiniAllocator) ForEach(qStart, qEnd []byte, action Action) (fullyReleased bool, err error) {
	fullyReleased = true
	sawEntry := false

	addr := m.metaHead
	for addr != 0 {
		h := m.claimLockPage(addr)
		data := h.Data()
		hdr := readHeader(data)

		off := metaHeaderSize
		dirty := false
		for i := uint32(0); i < hdr.numEntries; i++ {
			e := decodeEntry(data[off:])
			sawEntry = true

			if m.inRange(&e, qStart, qEnd) {
				if e.released {
					logger.Errorf("miniext: traversal touched already-released extent %d", e.extentAddr)
					m.releasePage(h)
					panic(fmt.Errorf("%w: extent %d already released", ErrInvariant, e.extentAddr))
				}
				released := action(e.extentAddr)
				writeEntryReleased(data, off, released)
				dirty = true
				if !released {
					fullyReleased = false
				}
			} else if !e.released {
				fullyReleased = false
			}

			off += e.size()
		}

		if dirty {
			m.cache.MarkDirty(h)
		}

		next := hdr.nextMetaAddr
		m.releasePage(h)
		addr = next
	}

	if sawEntry && fullyReleased {
		m.releaseMetadataChainExtents(action)
	}

	return sawEntry && fullyReleased, nil
}

// releaseMetadataChainExtents frees the extents backing the metadata
// chain itself, once every entry it records has been released. It
// invokes the same action the traversal was called with, once per
// distinct extent base: consecutive metadata pages sharing an extent
// are coalesced into a single call, matching the one-call-per-extent
// contract every other entry's extent receives. Calling the caller's
// own action here, rather than reaching into the cache directly, keeps
// a caller-supplied releasing action (not just RangeRelease's) in
// control of how the chain's own extents get freed.
func (m *MiniAllocator) releaseMetadataChainExtents(action Action) {
	extentSize := m.cache.ExtentSize()

	var lastBase uint64
	haveLast := false

	addr := m.metaHead
	for addr != 0 {
		h := m.claimLockPage(addr)
		hdr := readHeader(h.Data())
		next := hdr.nextMetaAddr
		m.releasePage(h)

		base := addr - (addr % extentSize)
		if haveLast && base != lastBase {
			action(lastBase)
		}
		lastBase = base
		haveLast = true

		addr = next
	}

	if haveLast {
		action(lastBase)
	}
}
