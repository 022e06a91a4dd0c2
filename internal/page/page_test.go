package page_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/hashindex/internal/page"
)

func Test_Page_Reset_Clears_Identity_Pin_And_Bytes(t *testing.T) {
	t.Parallel()

	var p page.Page

	p.Reset(page.ID(7))
	p.Data()[0] = 0xFF
	p.Pin()
	p.SetDirty(true)

	p.Reset(page.ID(9))

	assert.Equal(t, page.ID(9), p.ID())
	assert.Equal(t, int32(0), p.PinCount())
	assert.False(t, p.IsDirty())
	assert.Equal(t, byte(0), p.Data()[0])
}

func Test_Page_Pin_Unpin_Tracks_Count(t *testing.T) {
	t.Parallel()

	var p page.Page

	p.Pin()
	p.Pin()
	require.Equal(t, int32(2), p.PinCount())

	remaining := p.Unpin()
	assert.Equal(t, int32(1), remaining)
	assert.Equal(t, int32(1), p.PinCount())
}

func Test_Page_Unpin_Below_Zero_Panics(t *testing.T) {
	t.Parallel()

	var p page.Page

	assert.Panics(t, func() { p.Unpin() })
}

func Test_Page_Data_Is_Exactly_Page_Size(t *testing.T) {
	t.Parallel()

	var p page.Page

	assert.Len(t, p.Data(), page.Size)
}
