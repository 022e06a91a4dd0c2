package hashindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/hashindex/internal/hashindex"
	"github.com/calvinalkan/hashindex/internal/page"
)

func newBlockView(t *testing.T) (*page.Page, *hashindex.BlockView[int64, int64]) {
	t.Helper()

	var pg page.Page
	pg.Reset(page.ID(1))

	return &pg, hashindex.NewBlockView(&pg, hashindex.Int64Codec{}, hashindex.Int64Codec{})
}

func Test_BlockView_Insert_Claims_Unoccupied_Slot(t *testing.T) {
	t.Parallel()

	_, blk := newBlockView(t)

	ok := blk.Insert(3, 42, 99)
	require.True(t, ok)

	assert.True(t, blk.IsOccupied(3))
	assert.True(t, blk.IsReadable(3))

	k, err := blk.KeyAt(3)
	require.NoError(t, err)
	assert.Equal(t, int64(42), k)

	v, err := blk.ValueAt(3)
	require.NoError(t, err)
	assert.Equal(t, int64(99), v)
}

func Test_BlockView_Insert_Rejects_Already_Readable_Slot(t *testing.T) {
	t.Parallel()

	_, blk := newBlockView(t)

	require.True(t, blk.Insert(0, 1, 1))
	assert.False(t, blk.Insert(0, 2, 2), "a second claim of the same readable slot must fail")
}

func Test_BlockView_Insert_Reclaims_Tombstoned_Slot(t *testing.T) {
	t.Parallel()

	_, blk := newBlockView(t)

	require.True(t, blk.Insert(0, 1, 1))
	blk.Remove(0)

	assert.True(t, blk.IsOccupied(0), "occupied bit survives Remove")
	assert.False(t, blk.IsReadable(0))

	ok := blk.Insert(0, 7, 7)
	assert.True(t, ok, "a tombstoned slot can be reclaimed")

	k, err := blk.KeyAt(0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), k)
}

func Test_BlockView_KeyAt_ValueAt_Fail_On_Unreadable_Slot(t *testing.T) {
	t.Parallel()

	_, blk := newBlockView(t)

	_, err := blk.KeyAt(5)
	assert.ErrorIs(t, err, hashindex.ErrNotReadable)

	_, err = blk.ValueAt(5)
	assert.ErrorIs(t, err, hashindex.ErrNotReadable)
}

func Test_BlockView_Capacity_Fits_Within_Page_Size(t *testing.T) {
	t.Parallel()

	_, blk := newBlockView(t)

	n := blk.Capacity()
	require.Greater(t, n, 0)

	slotSize := hashindex.Int64Codec{}.Size() * 2
	bitmapBytes := (n + 7) / 8

	assert.LessOrEqual(t, n*slotSize+2*bitmapBytes, page.Size)
	// One more slot would not fit - capacity is the maximum, not just a
	// valid value.
	assert.Greater(t, (n+1)*slotSize+2*((n+1+7)/8), page.Size)
}
