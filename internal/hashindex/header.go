package hashindex

import (
	"encoding/binary"
	"fmt"

	"github.com/calvinalkan/hashindex/internal/page"
)

// Header page byte layout. Fixed fields first, then a flat array of
// block-page ids.
const (
	headerOffPageID   = 0  // int64
	headerOffLSN      = 8  // int64
	headerOffSize     = 16 // uint64, number of buckets
	headerOffNextInd  = 24 // uint64, number of registered block ids
	headerOffBlockIDs = 32 // [...]int64
)

// MaxBlocksPerHeader is how many block page ids a single header page can
// hold. The source's header page has the analogous fixed-capacity
// block_page_ids_ array; this module bounds it by what fits in one page
// rather than naming a compile-time array size.
const MaxBlocksPerHeader = (page.Size - headerOffBlockIDs) / 8

// HeaderView projects the hash index's header page fields onto a page's raw
// bytes. It holds no state of its own; all reads and writes go straight
// through to pg.Data(). Callers are responsible for holding pg's latch for
// the duration of any read or write, same as BlockView.
type HeaderView struct {
	pg *page.Page
}

// NewHeaderView wraps pg as a header page.
func NewHeaderView(pg *page.Page) *HeaderView {
	return &HeaderView{pg: pg}
}

func (h *HeaderView) GetPageID() page.ID {
	return page.ID(int64(binary.LittleEndian.Uint64(h.pg.Data()[headerOffPageID:])))
}

func (h *HeaderView) SetPageID(id page.ID) {
	binary.LittleEndian.PutUint64(h.pg.Data()[headerOffPageID:], uint64(id))
}

func (h *HeaderView) GetLSN() int64 {
	return int64(binary.LittleEndian.Uint64(h.pg.Data()[headerOffLSN:]))
}

func (h *HeaderView) SetLSN(lsn int64) {
	binary.LittleEndian.PutUint64(h.pg.Data()[headerOffLSN:], uint64(lsn))
}

// GetSize returns the number of logical buckets (slots) the table currently
// addresses, not the number of block pages.
func (h *HeaderView) GetSize() uint64 {
	return binary.LittleEndian.Uint64(h.pg.Data()[headerOffSize:])
}

func (h *HeaderView) SetSize(size uint64) {
	binary.LittleEndian.PutUint64(h.pg.Data()[headerOffSize:], size)
}

// NumBlocks returns how many block page ids are currently registered.
func (h *HeaderView) NumBlocks() int {
	return int(binary.LittleEndian.Uint64(h.pg.Data()[headerOffNextInd:]))
}

// ResetBlockIndex sets the registered block count back to zero without
// touching the id slots themselves; AddBlockPageID calls that follow start
// overwriting from index 0.
func (h *HeaderView) ResetBlockIndex() {
	binary.LittleEndian.PutUint64(h.pg.Data()[headerOffNextInd:], 0)
}

// GetBlockPageID returns the i'th registered block page id.
func (h *HeaderView) GetBlockPageID(i int) page.ID {
	off := headerOffBlockIDs + i*8
	return page.ID(int64(binary.LittleEndian.Uint64(h.pg.Data()[off:])))
}

// AddBlockPageID appends id as the next registered block, failing once the
// header page's fixed capacity is exhausted.
func (h *HeaderView) AddBlockPageID(id page.ID) error {
	next := h.NumBlocks()
	if next >= MaxBlocksPerHeader {
		return fmt.Errorf("%w: at %d blocks", ErrCapacityExceeded, MaxBlocksPerHeader)
	}

	off := headerOffBlockIDs + next*8
	binary.LittleEndian.PutUint64(h.pg.Data()[off:], uint64(id))
	binary.LittleEndian.PutUint64(h.pg.Data()[headerOffNextInd:], uint64(next+1))

	return nil
}
