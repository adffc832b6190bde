package software

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type harness struct {
	dev   *Device
	queue gpu.Queue
	alloc gpu.CommandAllocator
	list  gpu.CommandList
	fence gpu.Fence
	value uint64
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	adapter, err := NewFactory(opts...).SoftwareAdapter()
	require.NoError(t, err)
	gd, err := adapter.CreateDevice()
	require.NoError(t, err)
	h := &harness{dev: gd.(*Device)}
	h.queue, err = gd.CreateQueue(gpu.QueueGraphics)
	require.NoError(t, err)
	h.alloc, err = gd.CreateCommandAllocator(gpu.QueueGraphics)
	require.NoError(t, err)
	h.list, err = gd.CreateCommandList(gpu.QueueGraphics, h.alloc)
	require.NoError(t, err)
	h.fence, err = gd.CreateFence(0)
	require.NoError(t, err)
	t.Cleanup(h.queue.Release)
	return h
}

func (h *harness) submitAndWait(t *testing.T) {
	t.Helper()
	require.NoError(t, h.list.Close())
	require.NoError(t, h.queue.Execute(h.list))
	h.value++
	require.NoError(t, h.queue.Signal(h.fence, h.value))
	select {
	case <-h.fence.Notify(h.value):
	case <-time.After(5 * time.Second):
		t.Fatal("fence never signaled")
	}
}

func TestBufferCopyRoundTrip(t *testing.T) {
	h := newHarness(t)
	payload := []byte("vertex bytes for the reference device")
	size := uint64(len(payload))

	upload, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: size, Heap: gpu.HeapUpload, InitialState: gpu.StateGenericRead})
	require.NoError(t, err)
	mem, err := upload.Map()
	require.NoError(t, err)
	copy(mem, payload)

	local, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: size, InitialState: gpu.StateCopyDest})
	require.NoError(t, err)
	readback, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: size, Heap: gpu.HeapReadback, InitialState: gpu.StateCopyDest})
	require.NoError(t, err)

	require.NoError(t, h.list.Reset(h.alloc, nil))
	h.list.CopyBufferRegion(local, 0, upload, 0, size)
	h.list.ResourceBarrier(gpu.Barrier{Resource: local, Before: gpu.StateCopyDest, After: gpu.StateCopySource})
	h.list.CopyBufferRegion(readback, 0, local, 0, size)
	h.submitAndWait(t)

	out, err := readback.Map()
	require.NoError(t, err)
	assert.Equal(t, payload, out)
	assert.Empty(t, h.dev.ValidationMessages())

	_, err = local.Map()
	assert.ErrorIs(t, err, gpu.ErrInvalidState)
}

func TestTextureCopyHonorsRowPitch(t *testing.T) {
	h := newHarness(t)
	desc := gpu.TextureDesc{Width: 2, Height: 2, Format: gpu.FormatR8G8B8A8Unorm, InitialState: gpu.StateCopyDest}
	fp := h.dev.Footprint(desc)

	upload, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: fp.TotalBytes, Heap: gpu.HeapUpload, InitialState: gpu.StateGenericRead})
	require.NoError(t, err)
	mem, _ := upload.Map()
	copy(mem[0:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	copy(mem[fp.RowPitch:fp.RowPitch+8], []byte{9, 10, 11, 12, 13, 14, 15, 16})

	tex, err := h.dev.CreateTexture(desc)
	require.NoError(t, err)

	require.NoError(t, h.list.Reset(h.alloc, nil))
	h.list.CopyBufferToTexture(tex, upload, fp)
	h.submitAndWait(t)

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, tex.(*texture).data)
}

func TestBarrierStateMismatchIsReported(t *testing.T) {
	h := newHarness(t)
	buf, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: 16, InitialState: gpu.StateCopyDest})
	require.NoError(t, err)

	require.NoError(t, h.list.Reset(h.alloc, nil))
	h.list.ResourceBarrier(gpu.Barrier{Resource: buf, Before: gpu.StatePixelShaderResource, After: gpu.StateCopySource})
	h.submitAndWait(t)

	msgs := h.dev.ValidationMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "expects PIXEL_SHADER_RESOURCE")
}

func TestFenceNeverMovesBackwards(t *testing.T) {
	f := &fence{}
	f.signal(5)
	f.signal(3)
	assert.Equal(t, uint64(5), f.CompletedValue())

	ch := f.Notify(7)
	select {
	case <-ch:
		t.Fatal("notified before the value was reached")
	default:
	}
	f.signal(7)
	<-ch
}

func TestAllocatorResetWhileInFlightFails(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.list.Reset(h.alloc, nil))
	require.NoError(t, Delay(h.list, 100*time.Millisecond))
	require.NoError(t, h.list.Close())
	require.NoError(t, h.queue.Execute(h.list))

	assert.ErrorIs(t, h.alloc.Reset(), gpu.ErrInvalidState)

	require.NoError(t, h.queue.Signal(h.fence, 1))
	<-h.fence.Notify(1)
	assert.NoError(t, h.alloc.Reset())
}

func TestSwapchainRotation(t *testing.T) {
	reverse := func(current, count uint32) uint32 { return (current + count - 1) % count }
	h := newHarness(t, WithRotation(reverse))
	sc, err := h.dev.CreateSwapchain(h.queue, gpu.SwapchainDesc{Width: 4, Height: 4, BufferCount: 3, Format: gpu.FormatR8G8B8A8Unorm})
	require.NoError(t, err)

	var seen []uint32
	for i := 0; i < 4; i++ {
		require.NoError(t, sc.Present(1, gpu.PresentNone))
		seen = append(seen, sc.CurrentBackBufferIndex())
	}
	assert.Equal(t, []uint32{2, 1, 0, 2}, seen)

	assert.ErrorIs(t, sc.Present(1, gpu.PresentAllowTearing), gpu.ErrInvalidArgument)

	bb, err := sc.Buffer(0)
	require.NoError(t, err)
	assert.ErrorIs(t, sc.ResizeBuffers(8, 8), gpu.ErrInvalidState)
	bb.Release()
	assert.NoError(t, sc.ResizeBuffers(8, 8))
}

func TestDispatchRunsRegisteredKernel(t *testing.T) {
	h := newHarness(t)
	q, err := h.dev.CreateQueue(gpu.QueueCompute)
	require.NoError(t, err)
	defer q.Release()
	alloc, _ := h.dev.CreateCommandAllocator(gpu.QueueCompute)
	list, _ := h.dev.CreateCommandList(gpu.QueueCompute, alloc)

	rs, err := h.dev.CreateRootSignature(gpu.RootSignatureDesc{Parameters: []gpu.RootParameter{
		{Type: gpu.RootParameterConstants, Num32BitValues: 1, Visibility: gpu.VisibilityCompute},
		{Type: gpu.RootParameterTable, RangeType: gpu.RangeUAV, NumDescriptors: 1, Visibility: gpu.VisibilityCompute},
	}})
	require.NoError(t, err)
	pso, err := h.dev.CreateComputePipeline(gpu.ComputePipelineDesc{RootSignature: rs, Name: "fill"})
	require.NoError(t, err)
	h.dev.RegisterKernel("fill", func(ctx gpu.KernelContext) error {
		mem, err := ctx.Buffer(1, 0)
		if err != nil {
			return err
		}
		for i := 0; i+4 <= len(mem); i += 4 {
			binary.LittleEndian.PutUint32(mem[i:], ctx.Constants(0)[0])
		}
		return nil
	})

	buf, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: 16, Flags: gpu.ResourceFlagAllowUnorderedAccess, InitialState: gpu.StateUnorderedAccess})
	require.NoError(t, err)
	heap, err := h.dev.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Capacity: 1, ShaderVisible: true})
	require.NoError(t, err)
	require.NoError(t, h.dev.CreateUnorderedAccessView(buf, gpu.ViewDesc{NumElements: 4, StructureByteStride: 4}, heap, 0))

	require.NoError(t, list.Reset(alloc, pso))
	list.SetRootSignature(rs)
	list.SetDescriptorHeap(heap)
	list.SetRootConstants(0, []uint32{7})
	list.SetRootDescriptorTable(1, 0)
	list.Dispatch(1, 1, 1)
	require.NoError(t, list.Close())
	require.NoError(t, q.Execute(list))
	require.NoError(t, q.Signal(h.fence, 1))
	<-h.fence.Notify(1)

	assert.Equal(t, 1, h.dev.Dispatches())
	assert.Empty(t, h.dev.ValidationMessages())
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf.(*buffer).data[i*4:]))
	}
}

func TestMemoryBudgetAndDeviceLoss(t *testing.T) {
	h := newHarness(t, WithMemoryBudget(1024))
	first, err := h.dev.CreateBuffer(gpu.BufferDesc{Size: 1000, InitialState: gpu.StateCopyDest, Name: "big"})
	require.NoError(t, err)
	_, err = h.dev.CreateBuffer(gpu.BufferDesc{Size: 100, InitialState: gpu.StateCopyDest})
	assert.ErrorIs(t, err, gpu.ErrOutOfMemory)
	assert.Equal(t, 1, h.dev.LiveResources())

	h.dev.Lose(assert.AnError, first.GPUAddress()+10)
	assert.True(t, gpu.IsDeviceLost(h.queue.Signal(h.fence, 1)))
	diag := h.dev.Diagnostics()
	require.NotNil(t, diag.PageFault)
	assert.Equal(t, []string{"big"}, diag.PageFault.Resources)

	first.Release()
	assert.Equal(t, 0, h.dev.LiveResources())
}
