package renderer

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// Frame is the graphics recording of one back buffer.
type Frame struct {
	List       gpu.CommandList
	BackBuffer *Resource
	Depth      *Resource
	Index      uint32
	Viewport   gpu.Viewport
	Scissor    gpu.Rect
}

// BeginFrame opens the graphics list on the current back buffer slot, moves
// the back buffer into RENDER_TARGET, clears color and depth and binds them.
func (c *Context) BeginFrame() (*Frame, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	idx := c.currentBackBufferIndex
	list, err := c.recorders[gpu.QueueGraphics].Begin(idx)
	if err != nil {
		return nil, err
	}
	f := &Frame{
		List:       list,
		BackBuffer: c.backBuffers[idx],
		Depth:      c.depthBuffer,
		Index:      idx,
		Viewport: gpu.Viewport{
			Width:    float32(c.width),
			Height:   float32(c.height),
			MaxDepth: 1.0,
		},
		Scissor: gpu.Rect{Right: int32(c.width), Bottom: int32(c.height)},
	}
	f.BackBuffer.Transition(list, gpu.StateRenderTarget)
	list.ClearRenderTarget(f.BackBuffer.GPUTexture(), ClearColor)
	list.ClearDepth(f.Depth.GPUTexture(), 1.0)
	list.SetRenderTargets(f.BackBuffer.GPUTexture(), f.Depth.GPUTexture())
	list.SetViewport(f.Viewport)
	list.SetScissor(f.Scissor)
	return f, nil
}

// EndFrame moves the back buffer back to PRESENT and submits the list.
func (c *Context) EndFrame(f *Frame) error {
	f.BackBuffer.Transition(f.List, gpu.StatePresent)
	rec := c.recorders[gpu.QueueGraphics]
	if err := rec.Close(); err != nil {
		return err
	}
	return c.checkDevice(rec.Submit())
}

// Present shows the current back buffer, signals the graphics queue, picks
// up the next back buffer index from the swap chain and waits before it is
// reused.
func (c *Context) Present(ctx context.Context) error {
	if !c.initialized {
		return ErrNotInitialized
	}
	syncInterval := uint32(0)
	flags := gpu.PresentNone
	if c.cfg.VSync {
		syncInterval = 1
	} else if c.tearingSupported {
		flags |= gpu.PresentAllowTearing
	}
	presented := c.currentBackBufferIndex
	if err := c.swapchain.Present(syncInterval, flags); err != nil {
		return c.checkDevice(errors.Wrap(err, "presenting"))
	}

	value, err := c.Signal(c.queues[gpu.QueueGraphics])
	if err != nil {
		return err
	}
	c.frameFenceValues[presented] = value
	c.recorders[gpu.QueueGraphics].Retire(presented, value)

	c.currentBackBufferIndex = c.swapchain.CurrentBackBufferIndex()

	if c.cfg.PipelinedFrames {
		return c.WaitForValue(ctx, c.frameFenceValues[c.currentBackBufferIndex])
	}
	return c.WaitForFenceValue(ctx)
}

// BeginCompute opens the compute list on the current back buffer slot.
func (c *Context) BeginCompute() (gpu.CommandList, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	return c.recorders[gpu.QueueCompute].Begin(c.currentBackBufferIndex)
}

// SubmitCompute submits the compute list, signals the compute queue and waits
// for it, so later graphics work sees the results. The compute queue first
// waits on the GPU for the last graphics signal, so it never overlaps a frame
// still reading what the dispatch writes.
func (c *Context) SubmitCompute(ctx context.Context) error {
	rec := c.recorders[gpu.QueueCompute]
	slot := c.currentBackBufferIndex
	if err := rec.Close(); err != nil {
		return err
	}
	if err := c.QueueWait(c.queues[gpu.QueueCompute], c.LastSignaledValue()); err != nil {
		rec.Abort()
		return err
	}
	if err := rec.Submit(); err != nil {
		return c.checkDevice(err)
	}
	value, err := c.Signal(c.queues[gpu.QueueCompute])
	if err != nil {
		return err
	}
	rec.Retire(slot, value)
	return c.WaitForValue(ctx, value)
}
