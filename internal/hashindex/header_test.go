package hashindex_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/hashindex/internal/hashindex"
	"github.com/calvinalkan/hashindex/internal/page"
)

func Test_HeaderView_Size_And_PageID_Roundtrip(t *testing.T) {
	t.Parallel()

	var pg page.Page
	pg.Reset(page.ID(1))

	h := hashindex.NewHeaderView(&pg)
	h.SetPageID(page.ID(1))
	h.SetSize(512)

	assert.Equal(t, page.ID(1), h.GetPageID())
	assert.Equal(t, uint64(512), h.GetSize())
}

func Test_HeaderView_AddBlockPageID_Tracks_NumBlocks_And_Order(t *testing.T) {
	t.Parallel()

	var pg page.Page
	pg.Reset(page.ID(1))

	h := hashindex.NewHeaderView(&pg)

	require.NoError(t, h.AddBlockPageID(page.ID(10)))
	require.NoError(t, h.AddBlockPageID(page.ID(11)))
	require.NoError(t, h.AddBlockPageID(page.ID(12)))

	assert.Equal(t, 3, h.NumBlocks())
	assert.Equal(t, page.ID(10), h.GetBlockPageID(0))
	assert.Equal(t, page.ID(11), h.GetBlockPageID(1))
	assert.Equal(t, page.ID(12), h.GetBlockPageID(2))
}

func Test_HeaderView_AddBlockPageID_Fails_Once_Capacity_Exhausted(t *testing.T) {
	t.Parallel()

	var pg page.Page
	pg.Reset(page.ID(1))

	h := hashindex.NewHeaderView(&pg)

	for i := 0; i < hashindex.MaxBlocksPerHeader; i++ {
		require.NoError(t, h.AddBlockPageID(page.ID(i+1)))
	}

	err := h.AddBlockPageID(page.ID(99999))
	assert.ErrorIs(t, err, hashindex.ErrCapacityExceeded)
}

func Test_HeaderView_ResetBlockIndex_Zeroes_NumBlocks_Without_Touching_Slots(t *testing.T) {
	t.Parallel()

	var pg page.Page
	pg.Reset(page.ID(1))

	h := hashindex.NewHeaderView(&pg)
	require.NoError(t, h.AddBlockPageID(page.ID(5)))

	h.ResetBlockIndex()
	assert.Equal(t, 0, h.NumBlocks())

	require.NoError(t, h.AddBlockPageID(page.ID(6)))
	assert.Equal(t, page.ID(6), h.GetBlockPageID(0))
}
