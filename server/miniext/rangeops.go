package miniext

// RangeIncRefcount bumps the refcount of every extent whose metadata
// entry intersects [qStart, qEnd]. Pass nil for both to cover the whole
// stream. Used by callers taking a second reference over a range they
// are about to hand out elsewhere (e.g. a snapshot). This never
// releases anything, so it always leaves every matched entry's
// released state as false.
func (m *MiniAllocator) RangeIncRefcount(qStart, qEnd []byte) {
	alloc := m.cache.Allocator()
	_, _ = m.ForEach(qStart, qEnd, func(extentAddr uint64) bool {
		alloc.IncRefcount(extentAddr)
		return false
	})
}

// RangeRelease releases every extent whose metadata entry intersects
// [qStart, qEnd], decrementing each through the cache's Dealloc; an
// entry is marked released only if Dealloc reports the refcount
// actually reached zero (an extent held by more than this stream stays
// unreleased). It reports whether the whole chain ended up fully
// released as a result (in which case the metadata chain's own extents
// have already been freed by the time this returns).
func (m *MiniAllocator) RangeRelease(qStart, qEnd []byte) bool {
	fullyReleased, _ := m.ForEach(qStart, qEnd, func(extentAddr uint64) bool {
		return m.cache.Dealloc(extentAddr, m.pageType)
	})
	return fullyReleased
}

// RangeSync flushes every extent whose metadata entry intersects
// [qStart, qEnd] via the cache's ExtentSync, and returns the number of
// pages still outstanding (not yet durable) across all of them once
// every extent in range has been handed to the cache.
func (m *MiniAllocator) RangeSync(qStart, qEnd []byte) int {
	var outstanding int
	_, _ = m.ForEach(qStart, qEnd, func(extentAddr uint64) bool {
		m.cache.ExtentSync(extentAddr, &outstanding)
		return false
	})
	return outstanding
}

// RangePrefetch issues a cache Prefetch for every extent whose metadata
// entry intersects [qStart, qEnd].
func (m *MiniAllocator) RangePrefetch(qStart, qEnd []byte) {
	_, _ = m.ForEach(qStart, qEnd, func(extentAddr uint64) bool {
		m.cache.Prefetch(extentAddr, m.pageType)
		return false
	})
}

// ExtentCountInRange counts how many extents have a metadata entry
// intersecting [qStart, qEnd]. It is read-only: a consequent chain
// teardown is still detected and applied exactly as in any other
// ForEach-based call (the chain may already be fully released from an
// earlier RangeRelease), but the count itself never follows from a
// side effect this call makes.
func (m *MiniAllocator) ExtentCountInRange(qStart, qEnd []byte) int {
	count := 0
	_, _ = m.ForEach(qStart, qEnd, func(extentAddr uint64) bool {
		count++
		return false
	})
	return count
}
