// Package buffer implements the buffer-pool manager collaborator the hash
// index depends on: a fixed set of in-memory frames, backed by the disk
// manager, with clock-based eviction.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/hashindex/internal/disk"
	"github.com/calvinalkan/hashindex/internal/logging"
	"github.com/calvinalkan/hashindex/internal/page"
	"github.com/calvinalkan/hashindex/internal/replacer"
)

// Sentinel errors for buffer-pool-level failures, following the flat
// package-level var idiom used throughout this module's ambient error
// handling (see SPEC_FULL.md §10).
var (
	// ErrBufferPoolFull indicates every frame is pinned and the replacer
	// found no victim - the caller cannot make progress right now.
	ErrBufferPoolFull = errors.New("buffer: pool exhausted, no evictable frame")
	// ErrPageNotFound indicates UnpinPage/FlushPage/DeletePage was asked for
	// a page id this pool does not currently map. FetchPage does not return
	// it: an unmapped id is loaded from disk instead.
	ErrPageNotFound = errors.New("buffer: page not found")
	// ErrPagePinned indicates DeletePage was asked to delete a pinned page.
	ErrPagePinned = errors.New("buffer: page is pinned")
)

// Pool is the buffer-pool manager. It is safe for concurrent use; its own
// mutex guards the page table, free list, and frame pin/dirty state, while
// each frame's own latch (see page.Page) guards the frame's byte contents
// for the hash index's higher-granularity latching.
type Pool struct {
	mu sync.Mutex

	disk     *disk.Manager
	log      *logging.Logger
	frames   []page.Page
	pageTbl  map[page.ID]int // page id -> frame index
	freeList []int           // frame indices with no resident page
	clock    *replacer.Clock
}

// NewPool constructs a pool of poolSize frames backed by d.
func NewPool(d *disk.Manager, poolSize int) *Pool {
	free := make([]int, poolSize)
	for i := range free {
		free[i] = i
	}

	return &Pool{
		disk:     d,
		log:      logging.For("bufferpool"),
		frames:   make([]page.Page, poolSize),
		pageTbl:  make(map[page.ID]int, poolSize),
		freeList: free,
		clock:    replacer.New(poolSize),
	}
}

// NewPage allocates a fresh page id from the disk manager, installs it in a
// free or evicted frame, pins it, and returns it zero-filled.
func (p *Pool) NewPage() (*page.Page, error) {
	p.mu.Lock()

	frameIdx, err := p.acquireFrameLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	id := p.disk.AllocatePage()
	fr := &p.frames[frameIdx]
	fr.Reset(id)
	fr.Pin()
	p.pageTbl[id] = frameIdx

	p.mu.Unlock()

	return fr, nil
}

// FetchPage pins and returns the page for id, loading it from disk into a
// free or evicted frame if it is not already resident.
func (p *Pool) FetchPage(id page.ID) (*page.Page, error) {
	p.mu.Lock()

	if frameIdx, ok := p.pageTbl[id]; ok {
		fr := &p.frames[frameIdx]
		if fr.PinCount() == 0 {
			p.clock.Remove(frameIdx)
		}
		fr.Pin()
		p.mu.Unlock()

		return fr, nil
	}

	frameIdx, err := p.acquireFrameLocked()
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	fr := &p.frames[frameIdx]
	fr.Reset(id)
	fr.Pin()
	p.pageTbl[id] = frameIdx

	p.mu.Unlock()

	fr.Lock()
	err = p.disk.ReadPage(id, fr.Data())
	fr.Unlock()

	if err != nil {
		return nil, fmt.Errorf("buffer: fetching page %d: %w", id, err)
	}

	return fr, nil
}

// acquireFrameLocked returns a frame index with no resident page, first
// from the free list, then by evicting a clock victim. Callers must hold
// p.mu.
func (p *Pool) acquireFrameLocked() (int, error) {
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]

		return idx, nil
	}

	// A single Victim() scan only clears reference bits on frames it passes
	// without evicting anything when every tracked frame currently has its
	// reference bit set - the frame becomes evictable on the very next scan,
	// once those bits are cleared. Two scans are always enough: the first
	// clears every ref bit it sees, so the second is guaranteed to find a
	// frame with ref == false if any frame is tracked at all.
	var (
		victim int
		ok     bool
	)

	for attempt := 0; attempt < 2 && !ok; attempt++ {
		victim, ok = p.clock.Victim()
	}

	if !ok {
		p.log.Warn("no evictable frame", "pool_size", len(p.frames))
		return 0, ErrBufferPoolFull
	}

	// The frame is about to be handed out pinned; it re-enters the clock only
	// when UnpinPage brings its pin count back to zero.
	p.clock.Remove(victim)

	fr := &p.frames[victim]

	var oldID page.ID
	for id, idx := range p.pageTbl {
		if idx == victim {
			oldID = id
			break
		}
	}

	if fr.IsDirty() {
		fr.RLock()
		err := p.disk.WritePage(oldID, fr.Data())
		fr.RUnlock()

		if err != nil {
			return 0, fmt.Errorf("buffer: flushing evicted page %d: %w", oldID, err)
		}
	}

	delete(p.pageTbl, oldID)

	return victim, nil
}

// UnpinPage decrements id's pin count, optionally marking it dirty. Once
// the pin count reaches zero the frame becomes eligible for eviction.
func (p *Pool) UnpinPage(id page.ID, isDirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTbl[id]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}

	fr := &p.frames[frameIdx]
	if isDirty {
		fr.SetDirty(true)
	}

	if fr.Unpin() == 0 {
		p.clock.Add(frameIdx)
	}

	return nil
}

// FlushPage writes id's current in-memory bytes to disk unconditionally
// and clears the dirty flag.
func (p *Pool) FlushPage(id page.ID) error {
	p.mu.Lock()
	frameIdx, ok := p.pageTbl[id]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}

	fr := &p.frames[frameIdx]

	fr.RLock()
	err := p.disk.WritePage(id, fr.Data())
	fr.RUnlock()

	if err != nil {
		return fmt.Errorf("buffer: flushing page %d: %w", id, err)
	}

	fr.SetDirty(false)

	return nil
}

// FlushAllPages flushes every currently-mapped page.
func (p *Pool) FlushAllPages() error {
	p.mu.Lock()
	ids := make([]page.ID, 0, len(p.pageTbl))
	for id := range p.pageTbl {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.FlushPage(id); err != nil {
			return err
		}
	}

	return nil
}

// DeletePage removes id from the pool, returning its frame to the free
// list. Fails if the page is currently pinned.
func (p *Pool) DeletePage(id page.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	frameIdx, ok := p.pageTbl[id]
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotFound, id)
	}

	fr := &p.frames[frameIdx]
	if fr.PinCount() > 0 {
		return fmt.Errorf("%w: page %d", ErrPagePinned, id)
	}

	p.clock.Remove(frameIdx)
	delete(p.pageTbl, id)
	fr.Reset(page.InvalidID)
	p.freeList = append(p.freeList, frameIdx)
	p.disk.DeallocatePage(id)

	return nil
}
