package renderer

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/software"
)

func TestDescriptorRangesAreDisjointAndBounded(t *testing.T) {
	c, _ := newTestContext(t, Config{DescriptorHeapSize: 256})
	heap := c.DescriptorHeap()
	require.Equal(t, uint32(256), heap.Capacity())

	rng := rand.New(rand.NewSource(7))
	owner := make([]int, heap.Capacity())
	for i := range owner {
		owner[i] = -1
	}
	for n := 0; ; n++ {
		size := uint32(rng.Intn(9) + 1)
		base, err := heap.Allocate(size)
		if err != nil {
			assert.ErrorIs(t, err, ErrDescriptorHeapExhausted)
			break
		}
		require.LessOrEqual(t, base+size, heap.Capacity())
		for i := base; i < base+size; i++ {
			require.Equal(t, -1, owner[i], "descriptor %d handed out twice", i)
			owner[i] = n
		}
	}
	assert.LessOrEqual(t, heap.Used(), heap.Capacity())

	heap.Reset()
	base, err := heap.Allocate(heap.Capacity())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), base)
	_, err = heap.Allocate(1)
	assert.ErrorIs(t, err, ErrDescriptorHeapExhausted)
}

func TestViewsWriteDescriptors(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	res, err := c.CreateBuffer(context.Background(), BufferDesc{
		Name:         "structured",
		ElementCount: 4,
		ElementSize:  16,
		Flags:        gpu.ResourceFlagAllowUnorderedAccess,
		FinalState:   gpu.StatePixelShaderResource,
	})
	require.NoError(t, err)

	base, err := c.DescriptorHeap().Allocate(3)
	require.NoError(t, err)
	require.NoError(t, c.CreateSRV(res, base))
	require.NoError(t, c.CreateUAV(res, base+1))
	require.NoError(t, c.CreateEmptySRV(base+2))

	srv, ok := dev.Descriptor(c.DescriptorHeap().Heap(), base)
	require.True(t, ok)
	assert.Equal(t, software.DescriptorSRV, srv.Kind)
	assert.Equal(t, uint32(16), srv.Desc.StructureByteStride)

	uav, ok := dev.Descriptor(c.DescriptorHeap().Heap(), base+1)
	require.True(t, ok)
	assert.Equal(t, software.DescriptorUAV, uav.Kind)

	empty, ok := dev.Descriptor(c.DescriptorHeap().Heap(), base+2)
	require.True(t, ok)
	assert.True(t, empty.Null())

	res.Release()
	assert.False(t, res.Valid())
	assert.ErrorIs(t, c.CreateSRV(res, base), ErrInvalidResource)
}
