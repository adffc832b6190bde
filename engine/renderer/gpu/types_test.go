package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCopyableFootprintPitch(t *testing.T) {
	fp := CopyableFootprint(TextureDesc{Width: 3, Height: 2, Depth: 1, Format: FormatR8G8B8A8Unorm})
	assert.Equal(t, uint32(256), fp.RowPitch)
	assert.Equal(t, uint64(12), fp.RowSize)
	assert.Equal(t, uint32(2), fp.NumRows)
	assert.Equal(t, uint64(256+12), fp.TotalBytes)

	wide := CopyableFootprint(TextureDesc{Width: 65, Height: 1, Format: FormatR8G8B8A8Unorm})
	assert.Equal(t, uint32(512), wide.RowPitch)
	assert.Equal(t, uint32(1), wide.Depth)
}

func TestResourceStateString(t *testing.T) {
	assert.Equal(t, "COMMON", StateCommon.String())
	assert.Equal(t, "COPY_DEST", StateCopyDest.String())
	assert.Equal(t, "NON_PIXEL_SHADER_RESOURCE|PIXEL_SHADER_RESOURCE", StateAllShaderResource.String())
	assert.True(t, StateAllShaderResource.Has(StatePixelShaderResource))
	assert.False(t, StatePixelShaderResource.Has(StateAllShaderResource))
}
