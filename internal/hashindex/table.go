// Package hashindex implements a disk-backed, concurrent linear-probing
// hash index: a fixed-capacity header page naming a chain of block pages,
// each holding fixed-width (key,value) slots plus occupied/readable
// bitmaps, probed with open addressing and grown by doubling.
package hashindex

import (
	"fmt"
	"sync"

	"github.com/calvinalkan/hashindex/internal/logging"
	"github.com/calvinalkan/hashindex/internal/page"
)

// BufferPool is everything the table needs from its buffer-pool
// collaborator. internal/buffer.Pool satisfies it; tests may supply a
// smaller fake.
type BufferPool interface {
	NewPage() (*page.Page, error)
	FetchPage(id page.ID) (*page.Page, error)
	FlushPage(id page.ID) error
	UnpinPage(id page.ID, isDirty bool) error
	DeletePage(id page.ID) error
}

// Table is a linear-probing hash index over keys of type K mapping to
// values of type V. V must be comparable so Remove can check value equality
// the way the source's Remove(key, value) does (a key may have duplicate
// values; only the matching pair is removed).
type Table[K any, V comparable] struct {
	pool BufferPool
	cmp  Comparator[K]
	hash HashFunc[K]
	key  Codec[K]
	val  Codec[V]

	headerID      page.ID
	slotsPerBlock int

	// tableLatch is the table-wide reader/writer lock: readers (GetValue,
	// Insert's probe, Remove, GetSize) take it for reading; Resize takes it
	// for writing. sync.RWMutex is not reentrant, so any internal path that
	// must run while already holding the write lock (Resize's migration
	// reinsertion) calls insertLocked directly rather than through the
	// public Insert, which would deadlock trying to re-acquire the read
	// lock.
	tableLatch sync.RWMutex

	log *logging.Logger
}

// NewTable allocates a fresh header page sized for numBuckets buckets plus
// however many block pages that requires, and returns a Table bound to it.
func NewTable[K any, V comparable](
	pool BufferPool,
	cmp Comparator[K],
	hash HashFunc[K],
	key Codec[K],
	val Codec[V],
	numBuckets uint64,
) (*Table[K, V], error) {
	slotSize := key.Size() + val.Size()
	n := blockCapacity(slotSize)
	if n <= 0 {
		return nil, fmt.Errorf("hashindex: key+value size %d does not fit a %d-byte page", slotSize, page.Size)
	}

	hdrPage, err := pool.NewPage()
	if err != nil {
		return nil, fmt.Errorf("%w: header page: %v", ErrAllocationFailure, err)
	}

	hdr := NewHeaderView(hdrPage)

	hdrPage.Lock()
	hdr.SetPageID(hdrPage.ID())
	hdr.SetSize(numBuckets)
	hdrPage.Unlock()

	t := &Table[K, V]{
		pool:          pool,
		cmp:           cmp,
		hash:          hash,
		key:           key,
		val:           val,
		headerID:      hdrPage.ID(),
		slotsPerBlock: n,
		log:           logging.For("hashindex"),
	}

	if err := t.appendBlocks(hdrPage, hdr, numBuckets); err != nil {
		_ = pool.UnpinPage(hdrPage.ID(), true)
		return nil, err
	}

	if err := pool.UnpinPage(hdrPage.ID(), true); err != nil {
		return nil, err
	}
	if err := pool.FlushPage(hdrPage.ID()); err != nil {
		return nil, err
	}

	return t, nil
}

// OpenTable binds a Table to an already-initialized header page at
// headerID, e.g. one recovered from an existing database file.
func OpenTable[K any, V comparable](
	pool BufferPool,
	cmp Comparator[K],
	hash HashFunc[K],
	key Codec[K],
	val Codec[V],
	headerID page.ID,
	slotsPerBlock int,
) *Table[K, V] {
	return &Table[K, V]{
		pool:          pool,
		cmp:           cmp,
		hash:          hash,
		key:           key,
		val:           val,
		headerID:      headerID,
		slotsPerBlock: slotsPerBlock,
		log:           logging.For("hashindex"),
	}
}

// HeaderPageID returns the page id of this table's header page, the only
// handle a caller needs to persist to reopen the table later.
func (t *Table[K, V]) HeaderPageID() page.ID { return t.headerID }

// SlotsPerBlock returns the fixed slot capacity of every block page this
// table allocates.
func (t *Table[K, V]) SlotsPerBlock() int { return t.slotsPerBlock }

// appendBlocks grows the header's registered block list until it names
// enough blocks to cover targetSize buckets, allocating and zero-filling
// each new block page as it goes.
func (t *Table[K, V]) appendBlocks(hdrPage *page.Page, hdr *HeaderView, targetSize uint64) error {
	hdrPage.Lock()
	total := uint64(hdr.NumBlocks()) * uint64(t.slotsPerBlock)
	hdrPage.Unlock()

	for total < targetSize {
		blkPage, err := t.pool.NewPage()
		if err != nil {
			return fmt.Errorf("%w: block page: %v", ErrAllocationFailure, err)
		}

		hdrPage.Lock()
		err = hdr.AddBlockPageID(blkPage.ID())
		hdrPage.Unlock()

		if err != nil {
			_ = t.pool.UnpinPage(blkPage.ID(), false)
			return err
		}

		if err := t.pool.UnpinPage(blkPage.ID(), true); err != nil {
			return err
		}
		if err := t.pool.FlushPage(blkPage.ID()); err != nil {
			return err
		}

		total += uint64(t.slotsPerBlock)
	}

	return nil
}

// snapshotHeader reads the current bucket count and full block-id list.
// Safe without a dedicated header-page latch held across the whole call:
// the only writer of these fields is Resize, which holds tableLatch
// exclusively, so any caller holding tableLatch for reading is already
// excluded from racing with it.
func (t *Table[K, V]) snapshotHeader() (uint64, []page.ID, error) {
	hdrPage, err := t.pool.FetchPage(t.headerID)
	if err != nil {
		return 0, nil, fmt.Errorf("hashindex: fetching header: %w", err)
	}

	hdr := NewHeaderView(hdrPage)

	hdrPage.RLock()
	size := hdr.GetSize()
	numBlocks := hdr.NumBlocks()
	ids := make([]page.ID, numBlocks)
	for i := range ids {
		ids[i] = hdr.GetBlockPageID(i)
	}
	hdrPage.RUnlock()

	if err := t.pool.UnpinPage(t.headerID, false); err != nil {
		return 0, nil, err
	}

	return size, ids, nil
}

func (t *Table[K, V]) slotLocation(i uint64) (blockIdx int, offset int) {
	n := uint64(t.slotsPerBlock)
	return int(i / n), int(i % n)
}

// GetValue returns every value currently stored under k.
func (t *Table[K, V]) GetValue(k K) ([]V, bool, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	results, err := t.probeRead(k)
	if err != nil {
		return nil, false, err
	}

	return results, len(results) > 0, nil
}

// probeRead walks the probe sequence for k, collecting every readable,
// matching pair, stopping at the first unoccupied slot or after a full
// revolution.
func (t *Table[K, V]) probeRead(k K) ([]V, error) {
	size, blockIDs, err := t.snapshotHeader()
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}

	i0 := t.hash(k) % size
	met := false

	var results []V

	for i := i0; ; i = (i + 1) % size {
		if i == i0 {
			if met {
				break
			}
			met = true
		}

		blockIdx, offset := t.slotLocation(i)

		blkPage, err := t.pool.FetchPage(blockIDs[blockIdx])
		if err != nil {
			return nil, fmt.Errorf("hashindex: fetching block %d: %w", blockIDs[blockIdx], err)
		}

		blk := NewBlockView(blkPage, t.key, t.val)

		blkPage.RLock()
		occupied := blk.IsOccupied(offset)

		var (
			matched bool
			val     V
		)
		if occupied && blk.IsReadable(offset) {
			key, _ := blk.KeyAt(offset)
			if t.cmp(k, key) == 0 {
				matched = true
				val, _ = blk.ValueAt(offset)
			}
		}
		blkPage.RUnlock()

		if err := t.pool.UnpinPage(blockIDs[blockIdx], false); err != nil {
			return nil, err
		}

		if !occupied {
			break
		}
		if matched {
			results = append(results, val)
		}
	}

	return results, nil
}

// insertOutcome distinguishes a rejected duplicate (permanent, no resize)
// from a probe that exhausted the table (triggers a resize-and-retry) from
// a successful claim.
type insertOutcome int

const (
	insertOK insertOutcome = iota
	insertDuplicate
	insertFull
)

// Insert adds (k,v), growing the table and retrying if the probe sequence
// finds no free slot. Returns false, without error, if (k,v) is already
// present.
func (t *Table[K, V]) Insert(k K, v V) (bool, error) {
	t.tableLatch.RLock()
	outcome, err := t.insertLocked(k, v)
	t.tableLatch.RUnlock()

	if err != nil {
		return false, err
	}

	switch outcome {
	case insertOK:
		return true, nil
	case insertDuplicate:
		return false, nil
	}

	size, err := t.GetSize()
	if err != nil {
		return false, err
	}

	if err := t.Resize(size); err != nil {
		return false, err
	}

	return t.Insert(k, v)
}

// insertLocked performs the duplicate check and claim probe. It does not
// touch tableLatch itself: Insert calls it holding the read lock; Resize's
// migration calls it directly while already holding the write lock, which
// is exactly why the split exists (see the tableLatch doc comment).
func (t *Table[K, V]) insertLocked(k K, v V) (insertOutcome, error) {
	existing, err := t.probeRead(k)
	if err != nil {
		return insertOK, err
	}

	for _, ev := range existing {
		if ev == v {
			return insertDuplicate, nil
		}
	}

	return t.probeInsert(k, v)
}

// probeInsert walks the probe sequence for k attempting to claim a slot,
// trying every slot in the table (tombstoned slots are valid claim
// targets) before giving up after one full revolution.
func (t *Table[K, V]) probeInsert(k K, v V) (insertOutcome, error) {
	size, blockIDs, err := t.snapshotHeader()
	if err != nil {
		return insertOK, err
	}
	if size == 0 {
		return insertFull, nil
	}

	i0 := t.hash(k) % size
	met := false

	for i := i0; ; i = (i + 1) % size {
		if i == i0 {
			if met {
				return insertFull, nil
			}
			met = true
		}

		blockIdx, offset := t.slotLocation(i)
		id := blockIDs[blockIdx]

		blkPage, err := t.pool.FetchPage(id)
		if err != nil {
			return insertOK, fmt.Errorf("hashindex: fetching block %d: %w", id, err)
		}

		blk := NewBlockView(blkPage, t.key, t.val)

		blkPage.Lock()
		claimed := blk.Insert(offset, k, v)
		blkPage.Unlock()

		if claimed {
			if err := t.pool.FlushPage(id); err != nil {
				_ = t.pool.UnpinPage(id, true)
				return insertOK, err
			}
			if err := t.pool.UnpinPage(id, true); err != nil {
				return insertOK, err
			}

			return insertOK, nil
		}

		if err := t.pool.UnpinPage(id, false); err != nil {
			return insertOK, err
		}
	}
}

// Remove deletes the (k,v) pair if present, returning whether it was
// found. A key with several distinct values only loses the one matching v.
func (t *Table[K, V]) Remove(k K, v V) (bool, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	size, blockIDs, err := t.snapshotHeader()
	if err != nil {
		return false, err
	}
	if size == 0 {
		return false, nil
	}

	i0 := t.hash(k) % size
	met := false

	for i := i0; ; i = (i + 1) % size {
		if i == i0 {
			if met {
				return false, nil
			}
			met = true
		}

		blockIdx, offset := t.slotLocation(i)
		id := blockIDs[blockIdx]

		blkPage, err := t.pool.FetchPage(id)
		if err != nil {
			return false, fmt.Errorf("hashindex: fetching block %d: %w", id, err)
		}

		blk := NewBlockView(blkPage, t.key, t.val)

		blkPage.Lock()
		occupied := blk.IsOccupied(offset)
		removed := false

		if occupied && blk.IsReadable(offset) {
			key, _ := blk.KeyAt(offset)
			if t.cmp(k, key) == 0 {
				val, _ := blk.ValueAt(offset)
				if val == v {
					blk.Remove(offset)
					removed = true
				}
			}
		}
		blkPage.Unlock()

		if removed {
			if err := t.pool.FlushPage(id); err != nil {
				_ = t.pool.UnpinPage(id, true)
				return false, err
			}
			if err := t.pool.UnpinPage(id, true); err != nil {
				return false, err
			}

			return true, nil
		}

		if err := t.pool.UnpinPage(id, false); err != nil {
			return false, err
		}

		if !occupied {
			return false, nil
		}
	}
}

// GetSize returns the table's current bucket count.
func (t *Table[K, V]) GetSize() (uint64, error) {
	t.tableLatch.RLock()
	defer t.tableLatch.RUnlock()

	size, _, err := t.snapshotHeader()
	return size, err
}

// Resize doubles the table's bucket count (relative to initialSize, the
// size observed by the caller that triggered this resize) if it has not
// already grown past that point, migrating every live pair into the larger
// table and discarding the old block pages.
func (t *Table[K, V]) Resize(initialSize uint64) error {
	t.tableLatch.Lock()
	defer t.tableLatch.Unlock()

	return t.resizeLocked(initialSize)
}

func (t *Table[K, V]) resizeLocked(initialSize uint64) error {
	hdrPage, err := t.pool.FetchPage(t.headerID)
	if err != nil {
		return fmt.Errorf("hashindex: fetching header: %w", err)
	}
	hdr := NewHeaderView(hdrPage)

	hdrPage.Lock()
	size := hdr.GetSize()
	target := initialSize * 2

	if size >= target {
		// Someone else already grew the table past what this caller saw;
		// nothing to do.
		hdrPage.Unlock()
		return t.pool.UnpinPage(t.headerID, false)
	}

	oldNumBlocks := hdr.NumBlocks()
	oldBlockIDs := make([]page.ID, oldNumBlocks)
	for i := range oldBlockIDs {
		oldBlockIDs[i] = hdr.GetBlockPageID(i)
	}

	hdr.SetSize(target)
	hdrPage.Unlock()

	// The old blocks are deleted after migration, so the blocks appended
	// here must cover the full new size on their own.
	oldCapacity := uint64(oldNumBlocks) * uint64(t.slotsPerBlock)
	if err := t.appendBlocks(hdrPage, hdr, oldCapacity+target); err != nil {
		_ = t.pool.UnpinPage(t.headerID, true)
		return err
	}

	hdrPage.Lock()
	newTotalBlocks := hdr.NumBlocks()
	newBlockIDs := make([]page.ID, 0, newTotalBlocks-oldNumBlocks)
	for i := oldNumBlocks; i < newTotalBlocks; i++ {
		newBlockIDs = append(newBlockIDs, hdr.GetBlockPageID(i))
	}

	hdr.ResetBlockIndex()
	for _, id := range newBlockIDs {
		if err := hdr.AddBlockPageID(id); err != nil {
			hdrPage.Unlock()
			_ = t.pool.UnpinPage(t.headerID, true)
			return err
		}
	}
	hdrPage.Unlock()

	if err := t.pool.UnpinPage(t.headerID, true); err != nil {
		return err
	}
	if err := t.pool.FlushPage(t.headerID); err != nil {
		return err
	}

	t.log.Info("resizing table", "old_size", size, "new_size", target, "old_blocks", oldNumBlocks)

	for _, oldID := range oldBlockIDs {
		if err := t.migrateBlock(oldID); err != nil {
			return err
		}
	}

	return nil
}

// migrateBlock copies every readable pair out of oldID into the (already
// grown, already re-registered) current table, then deletes oldID. Slots
// that are occupied but not readable (tombstones) are skipped: replaying
// them through KeyAt/ValueAt would fail since they hold no live value, and
// there is nothing to migrate.
func (t *Table[K, V]) migrateBlock(oldID page.ID) error {
	blkPage, err := t.pool.FetchPage(oldID)
	if err != nil {
		return fmt.Errorf("hashindex: fetching old block %d during resize: %w", oldID, err)
	}

	blk := NewBlockView(blkPage, t.key, t.val)

	type pair struct {
		k K
		v V
	}

	blkPage.RLock()
	pairs := make([]pair, 0, blk.Capacity())
	for s := 0; s < blk.Capacity(); s++ {
		if !blk.IsReadable(s) {
			continue
		}

		k, _ := blk.KeyAt(s)
		v, _ := blk.ValueAt(s)
		pairs = append(pairs, pair{k, v})
	}
	blkPage.RUnlock()

	if err := t.pool.UnpinPage(oldID, false); err != nil {
		return err
	}

	for _, p := range pairs {
		if err := t.insertWhileHoldingWriteLatch(p.k, p.v); err != nil {
			return err
		}
	}

	return t.pool.DeletePage(oldID)
}

// insertWhileHoldingWriteLatch reinserts a pair during a resize that is
// already holding tableLatch for writing. The table has just doubled in
// capacity and is migrating at most its prior bucket count worth of live
// pairs into it, so a second resize can never be required here; hitting
// insertFull would mean the table's own bucket-count bookkeeping is
// inconsistent.
func (t *Table[K, V]) insertWhileHoldingWriteLatch(k K, v V) error {
	outcome, err := t.insertLocked(k, v)
	if err != nil {
		return err
	}

	if outcome == insertFull {
		return fmt.Errorf("hashindex: resize migration found no free slot for a key that fit before growth")
	}

	return nil
}
