// Package page defines the fixed-size, latched byte buffer that the buffer
// pool hands out and every higher-level view (header page, block page) is
// projected onto.
package page

import "sync"

// Size is the fixed page size in bytes. 4 KiB matches the conventional
// database page size referenced by the index's persisted layout.
const Size = 4096

// ID identifies a page within the backing file. Page 0 is reserved for the
// disk manager's own file header; index pages start at 1.
type ID int64

// InvalidID marks a frame that holds no page; the buffer pool resets a
// deleted page's frame to it.
const InvalidID ID = -1

// Page is a pinned, latched, fixed-size buffer. The buffer pool owns the
// slice of Pages backing its frames; callers only ever see pages through
// Fetch/New, and must Unpin what they pin.
//
// The reader/writer latch and the raw bytes are the only contract the
// hash index depends on (see EXTERNAL INTERFACES); Page itself has no
// notion of header/block page layout.
type Page struct {
	latch sync.RWMutex

	id       ID
	data     [Size]byte
	pinCount int32
	isDirty  bool
}

// ID returns the page's identifier.
func (p *Page) ID() ID { return p.id }

// Data returns the page's raw byte buffer. Callers must hold at least a
// read latch before reading it, and a write latch before mutating it.
func (p *Page) Data() []byte { return p.data[:] }

// PinCount returns the current pin count. Only meaningful while the buffer
// pool's own mutex is held; exposed for diagnostics and tests.
func (p *Page) PinCount() int32 { return p.pinCount }

// IsDirty reports whether the page has unflushed writes.
func (p *Page) IsDirty() bool { return p.isDirty }

// SetDirty marks (or clears) the dirty flag. Callers must hold the write
// latch when setting it true after a mutation.
func (p *Page) SetDirty(dirty bool) { p.isDirty = dirty }

// RLock/RUnlock/Lock/Unlock expose the page latch directly. Naming mirrors
// sync.RWMutex rather than the WLatch/RLatch naming seen in some reference
// C++ ports, since this is idiomatic Go and the latch IS a sync.RWMutex.
func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }
func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }

// reset reinitializes a frame for reuse with a new page identity. Callers
// (the buffer pool, under its own mutex) must not call this while the page
// is pinned by anyone else.
func (p *Page) reset(id ID) {
	p.id = id
	p.pinCount = 0
	p.isDirty = false
	clear(p.data[:])
}

// Reset is the buffer pool's hook for recycling a frame. It is not part of
// the page's own concurrency contract - the pool serializes calls to it
// under its own mutex before the page is handed to anyone.
func (p *Page) Reset(id ID) { p.reset(id) }

// Pin increments the pin count. Must be called with the buffer pool's
// mutex held.
func (p *Page) Pin() { p.pinCount++ }

// Unpin decrements the pin count, returning the count after decrementing.
// Must be called with the buffer pool's mutex held. Panics on underflow -
// an unbalanced Unpin is a caller bug, not a runtime condition to recover
// from silently.
func (p *Page) Unpin() int32 {
	if p.pinCount <= 0 {
		panic("page: unpin of page with non-positive pin count")
	}
	p.pinCount--
	return p.pinCount
}
