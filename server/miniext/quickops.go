package miniext

import "github.com/zhukovaskychina/miniext/server/miniext/pagecache"

// PinRoot pins addr (typically an extent base returned by Init or
// Alloc) without claiming or locking it, for callers that only need to
// guarantee the cache won't drop the page out from under them while
// they read it through some other path. The returned handle must be
// passed to UnpinRoot exactly once.
func (m *MiniAllocator) PinRoot(addr uint64) *pagecache.Handle {
	return m.cache.Get(addr, true, m.pageType)
}

// UnpinRoot releases a handle obtained from PinRoot.
func (m *MiniAllocator) UnpinRoot(h *pagecache.Handle) {
	m.cache.Unget(h)
}
