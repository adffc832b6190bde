package renderer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
	"github.com/spaghettifunk/modelviewer/engine/renderer/software"
)

func newTestContext(t *testing.T, cfg Config, opts ...software.Option) (*Context, *software.Device) {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 64, 32
	}
	if cfg.FenceTimeout == 0 {
		cfg.FenceTimeout = 5 * time.Second
	}
	c, err := Initialize(software.NewFactory(opts...), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, c.Device().(*software.Device)
}

func renderFrame(t *testing.T, c *Context, work time.Duration) {
	t.Helper()
	f, err := c.BeginFrame()
	require.NoError(t, err)
	if work > 0 {
		require.NoError(t, software.Delay(f.List, work))
	}
	require.NoError(t, c.EndFrame(f))
	require.NoError(t, c.Present(context.Background()))
}

func TestSelectAdapterPrefersLargestDedicatedMemory(t *testing.T) {
	factory := software.NewFactory(software.WithAdapters(
		gpu.AdapterInfo{Name: "small", VendorID: 0x8086, DedicatedVideoMemory: 1 << 30},
		gpu.AdapterInfo{Name: "big", VendorID: 0x10DE, DedicatedVideoMemory: 8 << 30},
		gpu.AdapterInfo{Name: "emulated", Software: true, DedicatedVideoMemory: 64 << 30},
	))
	a, err := SelectAdapter(factory)
	require.NoError(t, err)
	assert.Equal(t, "big", a.Info().Name)

	a, err = SelectAdapter(software.NewFactory())
	require.NoError(t, err)
	assert.True(t, a.Info().Software)
}

func TestInitializeCreatesFrameResources(t *testing.T) {
	c, _ := newTestContext(t, Config{})

	for i := uint32(0); i < SwapChainBufferCount; i++ {
		bb := c.BackBuffer(i)
		require.True(t, bb.Valid())
		assert.Equal(t, gpu.StatePresent, bb.State)
		assert.Equal(t, ResourceKindTexture, bb.Kind)
	}
	depth := c.DepthBuffer()
	assert.Equal(t, DepthFormat, depth.Texture.Format)
	assert.Equal(t, gpu.StateDepthWrite, depth.State)
	assert.Equal(t, c.Swapchain().CurrentBackBufferIndex(), c.CurrentBackBufferIndex())
	assert.Equal(t, RecorderIdle, c.Recorder(gpu.QueueGraphics).State(0))
}

func TestBufferUploadReadbackEquality(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	data := make([]byte, 3*12)
	for i := range data {
		data[i] = byte(i * 7)
	}

	res, err := c.CreateBuffer(context.Background(), BufferDesc{
		Name:         "positions",
		ElementCount: 3,
		ElementSize:  12,
		Data:         data,
		FinalState:   gpu.StateVertexAndConstantBuffer,
	})
	require.NoError(t, err)
	assert.Equal(t, gpu.StateVertexAndConstantBuffer, res.State)

	out, err := c.Readback(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, gpu.StateVertexAndConstantBuffer, res.State)
	assert.Empty(t, dev.ValidationMessages())
}

func TestTextureUploadReadbackEquality(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	const w, h = 5, 3
	pixels := make([]byte, w*h*4)
	for i := range pixels {
		pixels[i] = byte(255 - i)
	}

	res, err := c.CreateTexture(context.Background(), TextureDesc{
		Name:       "checker",
		Width:      w,
		Height:     h,
		Format:     gpu.FormatR8G8B8A8Unorm,
		Pixels:     pixels,
		FinalState: gpu.StatePixelShaderResource,
	})
	require.NoError(t, err)

	out, err := c.Readback(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, pixels, out)
	assert.Empty(t, dev.ValidationMessages())
}

func TestUploadBatchSubmitsWhenFull(t *testing.T) {
	c, dev := newTestContext(t, Config{UploadBatchSize: 2})
	batch := c.NewUploadBatch(context.Background())

	var resources []*Resource
	for i := 0; i < 5; i++ {
		res, err := batch.AddBuffer(BufferDesc{
			Name:         "chunk",
			ElementCount: 4,
			ElementSize:  1,
			Data:         []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)},
			FinalState:   gpu.StateIndexBuffer,
		})
		require.NoError(t, err)
		resources = append(resources, res)
		assert.LessOrEqual(t, batch.Len(), 2)
	}
	require.NoError(t, batch.Submit())
	assert.Equal(t, 0, batch.Len())

	for i, res := range resources {
		out, err := c.Readback(context.Background(), res)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}, out)
	}
	assert.Empty(t, dev.ValidationMessages())
}

func TestUploadAllocationFailureIsReturned(t *testing.T) {
	c, _ := newTestContext(t, Config{}, software.WithMemoryBudget(1<<20))
	_, err := c.CreateBuffer(context.Background(), BufferDesc{
		Name:         "too big",
		ElementCount: 1 << 20,
		ElementSize:  4,
	})
	assert.ErrorIs(t, err, gpu.ErrOutOfMemory)

	_, err = c.CreateBuffer(context.Background(), BufferDesc{Name: "mismatch", ElementCount: 2, ElementSize: 4, Data: []byte{1}})
	assert.ErrorIs(t, err, gpu.ErrInvalidArgument)
}

func TestCancelledUploadLeavesSlotReusable(t *testing.T) {
	c, _ := newTestContext(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	list, err := c.upload.Begin(0)
	require.NoError(t, err)
	require.NoError(t, software.Delay(list, 50*time.Millisecond))
	require.NoError(t, c.upload.Close())
	err = c.submitUpload(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, c.WaitForValue(context.Background(), c.LastSignaledValue()))

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	res, err := c.CreateBuffer(context.Background(), BufferDesc{
		Name:         "after cancel",
		ElementCount: 2,
		ElementSize:  4,
		Data:         data,
		FinalState:   gpu.StateAllShaderResource,
	})
	require.NoError(t, err)
	out, err := c.Readback(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestWaitForFenceValueOrdering(t *testing.T) {
	c, _ := newTestContext(t, Config{})
	rec := c.Recorder(gpu.QueueGraphics)
	queue := c.Queue(gpu.QueueGraphics)
	const long = 150 * time.Millisecond

	submit := func(slot uint32, work time.Duration) uint64 {
		list, err := rec.Begin(slot)
		require.NoError(t, err)
		require.NoError(t, software.Delay(list, work))
		require.NoError(t, rec.Close())
		require.NoError(t, rec.Submit())
		value, err := c.Signal(queue)
		require.NoError(t, err)
		rec.Retire(slot, value)
		return value
	}

	start := time.Now()
	first := submit(0, long)
	second := submit(1, time.Millisecond)
	require.Greater(t, second, first)

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.WaitForValue(short, first), context.DeadlineExceeded)

	require.NoError(t, c.WaitForValue(context.Background(), first))
	assert.GreaterOrEqual(t, time.Since(start), long)
	assert.GreaterOrEqual(t, c.CompletedFenceValue(), first)

	require.NoError(t, c.WaitForFenceValue(context.Background()))
	assert.Equal(t, second, c.CompletedFenceValue())
}

func TestFlushDrainsBothQueues(t *testing.T) {
	c, _ := newTestContext(t, Config{})
	list, err := c.BeginCompute()
	require.NoError(t, err)
	require.NoError(t, software.Delay(list, 30*time.Millisecond))
	rec := c.Recorder(gpu.QueueCompute)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Submit())

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, c.LastSignaledValue(), c.CompletedFenceValue())
}

func TestRecorderRefusesAllocatorInFlight(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	rec := c.Recorder(gpu.QueueGraphics)

	list, err := rec.Begin(0)
	require.NoError(t, err)
	require.NoError(t, software.Delay(list, 100*time.Millisecond))

	_, err = rec.Begin(1)
	assert.ErrorIs(t, err, ErrInvalidRecorderState)
	assert.ErrorIs(t, rec.Submit(), ErrInvalidRecorderState)

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Submit())
	assert.Equal(t, RecorderSubmitted, rec.State(0))

	_, err = rec.Begin(0)
	assert.ErrorIs(t, err, ErrInvalidRecorderState, "slot was never retired")

	value, err := c.Signal(c.Queue(gpu.QueueGraphics))
	require.NoError(t, err)
	rec.Retire(0, value)

	_, err = rec.Begin(0)
	assert.ErrorIs(t, err, ErrAllocatorInFlight)

	require.NoError(t, c.WaitForValue(context.Background(), value))
	_, err = rec.Begin(0)
	require.NoError(t, err)
	rec.Abort()
	assert.Empty(t, dev.ValidationMessages())
}

func TestBackBufferIndexFollowsSwapchain(t *testing.T) {
	skip := func(current, count uint32) uint32 { return (current + 2) % count }
	for _, pipelined := range []bool{false, true} {
		c, dev := newTestContext(t, Config{PipelinedFrames: pipelined}, software.WithRotation(skip))
		for k := 0; k < 7; k++ {
			renderFrame(t, c, 5*time.Millisecond)
			assert.Equal(t, c.Swapchain().CurrentBackBufferIndex(), c.CurrentBackBufferIndex(), "present %d", k)
		}
		for i := uint32(0); i < SwapChainBufferCount; i++ {
			assert.Equal(t, gpu.StatePresent, c.BackBuffer(i).State)
			assert.NotZero(t, c.FrameFenceValue(i))
		}
		assert.Empty(t, dev.ValidationMessages(), "pipelined=%t", pipelined)
	}
}

func TestPipelinedFramesOnlyReuseCompletedAllocators(t *testing.T) {
	c, dev := newTestContext(t, Config{PipelinedFrames: true})
	rec := c.Recorder(gpu.QueueGraphics)
	for k := 0; k < 9; k++ {
		next := c.CurrentBackBufferIndex()
		assert.GreaterOrEqual(t, c.CompletedFenceValue(), rec.FenceValue(next), "frame %d", k)
		renderFrame(t, c, 10*time.Millisecond)
	}
	assert.Empty(t, dev.ValidationMessages())
}

func TestFrameClearsBackBuffer(t *testing.T) {
	c, _ := newTestContext(t, Config{})
	idx := c.CurrentBackBufferIndex()
	renderFrame(t, c, 0)

	out, err := c.Readback(context.Background(), c.BackBuffer(idx))
	require.NoError(t, err)
	require.Len(t, out, 64*32*4)
	assert.Equal(t, []byte{128, 128, 128, 255}, out[:4])
	assert.Equal(t, gpu.StatePresent, c.BackBuffer(idx).State)
}

func TestResizeRecreatesSizeDependentResources(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	renderFrame(t, c, time.Millisecond)
	oldDepth := c.DepthBuffer()

	require.NoError(t, c.Resize(128, 0))
	w, h := c.Size()
	assert.Equal(t, uint32(128), w)
	assert.Equal(t, uint32(1), h)
	assert.False(t, oldDepth.Valid())
	assert.Equal(t, uint32(128), c.DepthBuffer().Texture.Width)
	assert.Equal(t, uint32(1), c.BackBuffer(0).Texture.Height)
	assert.Equal(t, c.Swapchain().CurrentBackBufferIndex(), c.CurrentBackBufferIndex())

	renderFrame(t, c, 0)
	require.NoError(t, c.Resize(128, 1))
	assert.Empty(t, dev.ValidationMessages())
}

func TestShutdownReleasesEverything(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	renderFrame(t, c, time.Millisecond)
	require.NoError(t, c.Shutdown())
	assert.Equal(t, 0, dev.LiveResources())
	assert.NoError(t, c.Shutdown())

	_, err := c.BeginFrame()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDeviceLostIsReportedOnce(t *testing.T) {
	c, dev := newTestContext(t, Config{})
	var reports []gpu.Diagnostics
	c.OnDeviceLost = func(diag gpu.Diagnostics) { reports = append(reports, diag) }

	renderFrame(t, c, 0)
	dev.Lose(assert.AnError, 0)

	f, err := c.BeginFrame()
	require.NoError(t, err)
	_ = c.EndFrame(f)
	err = c.Present(context.Background())
	assert.True(t, gpu.IsDeviceLost(err))
	_, err = c.Signal(c.Queue(gpu.QueueCompute))
	assert.True(t, gpu.IsDeviceLost(err))

	require.Len(t, reports, 1)
	assert.NotEmpty(t, reports[0].Breadcrumbs)
	assert.True(t, gpu.IsDeviceLost(reports[0].Reason))
}
