package renderer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// Context owns the device, its queues, the swap chain and everything needed
// to record and submit frames. All methods must be called from the
// submitting goroutine.
type Context struct {
	cfg     Config
	factory gpu.Factory
	adapter gpu.AdapterInfo
	device  gpu.Device

	queues    [gpu.QueueTypeCount]gpu.Queue
	recorders [gpu.QueueTypeCount]*CommandRecorder
	upload    *CommandRecorder

	swapchain        gpu.Swapchain
	backBuffers      [SwapChainBufferCount]*Resource
	depthBuffer      *Resource
	tearingSupported bool
	width, height    uint32

	fence            gpu.Fence
	fenceValue       atomic.Uint64
	lastSignaled     atomic.Uint64
	frameFenceValues [SwapChainBufferCount]uint64

	currentBackBufferIndex uint32

	heap      *DescriptorHeap
	occlusion *OcclusionQuery

	// OnDeviceLost is called once when the device is removed. It defaults to
	// a fatal log.
	OnDeviceLost   func(diag gpu.Diagnostics)
	deviceLostOnce sync.Once

	initialized bool
}

// Initialize brings up the whole device stack. Any failure is returned and
// leaves nothing allocated.
func Initialize(factory gpu.Factory, cfg Config) (*Context, error) {
	cfg = cfg.withDefaults()
	c := &Context{cfg: cfg, factory: factory, width: cfg.Width, height: cfg.Height}
	if err := c.initialize(); err != nil {
		c.release()
		return nil, err
	}
	c.initialized = true
	core.LogInfo("Renderer initialized on %s (%dx%d, %d back buffers, vsync=%t, tearing=%t).",
		c.adapter.Name, c.width, c.height, SwapChainBufferCount, cfg.VSync, c.tearingSupported)
	return c, nil
}

func (c *Context) initialize() error {
	adapter, err := SelectAdapter(c.factory)
	if err != nil {
		return err
	}
	c.adapter = adapter.Info()
	logAdapter(c.adapter)

	c.device, err = adapter.CreateDevice()
	if err != nil {
		return errors.Wrapf(err, "creating device on %q", c.adapter.Name)
	}

	for t := gpu.QueueType(0); t < gpu.QueueTypeCount; t++ {
		if c.queues[t], err = c.device.CreateQueue(t); err != nil {
			return errors.Wrapf(err, "creating %s queue", t)
		}
	}

	if c.fence, err = c.device.CreateFence(0); err != nil {
		return errors.Wrap(err, "creating fence")
	}

	c.tearingSupported = c.device.Features().AllowTearing
	c.swapchain, err = c.device.CreateSwapchain(c.queues[gpu.QueueGraphics], gpu.SwapchainDesc{
		Width:        c.width,
		Height:       c.height,
		BufferCount:  SwapChainBufferCount,
		Format:       BackBufferFormat,
		AllowTearing: c.tearingSupported,
	})
	if err != nil {
		return errors.Wrap(err, "creating swap chain")
	}
	if err := c.wrapBackBuffers(); err != nil {
		return err
	}
	c.currentBackBufferIndex = c.swapchain.CurrentBackBufferIndex()

	if err := c.createDepthBuffer(c.width, c.height); err != nil {
		return err
	}

	for t := gpu.QueueType(0); t < gpu.QueueTypeCount; t++ {
		if c.recorders[t], err = newCommandRecorder(c.device, c.queues[t], c.fence, SwapChainBufferCount); err != nil {
			return err
		}
	}
	if c.upload, err = newCommandRecorder(c.device, c.queues[gpu.QueueGraphics], c.fence, 1); err != nil {
		return err
	}

	if c.heap, err = NewDescriptorHeap(c.device, c.cfg.DescriptorHeapSize); err != nil {
		return err
	}
	if c.occlusion, err = newOcclusionQuery(c.device); err != nil {
		return err
	}
	return nil
}

// SelectAdapter picks the hardware adapter with the most dedicated video
// memory and falls back to the software adapter when there is none.
func SelectAdapter(factory gpu.Factory) (gpu.Adapter, error) {
	adapters, err := factory.Adapters()
	if err != nil {
		return nil, errors.Wrap(err, "enumerating adapters")
	}
	var best gpu.Adapter
	for _, a := range adapters {
		info := a.Info()
		if info.Software {
			continue
		}
		if best == nil || info.DedicatedVideoMemory > best.Info().DedicatedVideoMemory {
			best = a
		}
	}
	if best != nil {
		return best, nil
	}
	core.LogWarn("No hardware adapter found, using the software adapter.")
	sw, err := factory.SoftwareAdapter()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "no hardware adapter and no software fallback"), gpu.ErrNoAdapter)
	}
	return sw, nil
}

func logAdapter(info gpu.AdapterInfo) {
	vendor := "Unknown"
	switch info.VendorID {
	case 0x10DE:
		vendor = "Nvidia"
	case 0x1002:
		vendor = "AMD"
	case 0x8086:
		vendor = "Intel"
	case 0x1414:
		vendor = "Microsoft"
	}
	core.LogInfo("Adapter: %s (vendor: %s)", info.Name, vendor)
	core.LogInfo("Dedicated video memory: %d MiB", info.DedicatedVideoMemory/(1024*1024))
}

func (c *Context) wrapBackBuffers() error {
	for i := uint32(0); i < SwapChainBufferCount; i++ {
		tex, err := c.swapchain.Buffer(i)
		if err != nil {
			return errors.Wrapf(err, "getting back buffer %d", i)
		}
		c.backBuffers[i] = newTextureResource(tex, gpu.StatePresent, fmt.Sprintf("Back Buffer %d", i))
	}
	return nil
}

func (c *Context) releaseBackBuffers() {
	for i := range c.backBuffers {
		c.backBuffers[i].Release()
		c.backBuffers[i] = nil
	}
}

func (c *Context) createDepthBuffer(width, height uint32) error {
	tex, err := c.device.CreateTexture(gpu.TextureDesc{
		Width:        width,
		Height:       height,
		Depth:        1,
		MipLevels:    1,
		Format:       DepthFormat,
		Flags:        gpu.ResourceFlagAllowDepthStencil,
		InitialState: gpu.StateDepthWrite,
		ClearValue:   &gpu.ClearValue{Depth: 1.0},
		Name:         "Depth Buffer",
	})
	if err != nil {
		return errors.Wrapf(err, "creating %dx%d depth buffer", width, height)
	}
	c.depthBuffer = newTextureResource(tex, gpu.StateDepthWrite, "Depth Buffer")
	return nil
}

// Resize flushes the GPU and recreates the size dependent resources.
func (c *Context) Resize(width, height uint32) error {
	if !c.initialized {
		return ErrNotInitialized
	}
	width = math.Clamp(width, 1, MaxTextureDimension)
	height = math.Clamp(height, 1, MaxTextureDimension)
	if width == c.width && height == c.height {
		return nil
	}
	if err := c.Flush(context.Background()); err != nil {
		return err
	}

	c.releaseBackBuffers()
	if err := c.swapchain.ResizeBuffers(width, height); err != nil {
		return errors.Wrapf(err, "resizing swap chain to %dx%d", width, height)
	}
	if err := c.wrapBackBuffers(); err != nil {
		return err
	}
	c.depthBuffer.Release()
	if err := c.createDepthBuffer(width, height); err != nil {
		return err
	}
	c.width, c.height = width, height
	c.currentBackBufferIndex = c.swapchain.CurrentBackBufferIndex()
	core.LogDebug("Renderer resized to %dx%d.", width, height)
	return nil
}

// Shutdown waits for the GPU and releases everything in dependency order.
func (c *Context) Shutdown() error {
	if !c.initialized {
		return nil
	}
	var err error
	if ferr := c.Flush(context.Background()); ferr != nil {
		err = errors.Wrap(ferr, "flushing before shutdown")
		core.LogError("%v", err)
	}
	c.release()
	c.initialized = false
	core.LogInfo("Renderer shut down.")
	return err
}

func (c *Context) release() {
	if c.occlusion != nil {
		c.occlusion.Release()
		c.occlusion = nil
	}
	if c.heap != nil {
		c.heap.Release()
		c.heap = nil
	}
	c.depthBuffer.Release()
	c.depthBuffer = nil
	c.releaseBackBuffers()
	if c.swapchain != nil {
		c.swapchain.Release()
		c.swapchain = nil
	}
	if c.upload != nil {
		c.upload.Release()
		c.upload = nil
	}
	for t := range c.recorders {
		if c.recorders[t] != nil {
			c.recorders[t].Release()
			c.recorders[t] = nil
		}
	}
	if c.fence != nil {
		c.fence.Release()
		c.fence = nil
	}
	for t := range c.queues {
		if c.queues[t] != nil {
			c.queues[t].Release()
			c.queues[t] = nil
		}
	}
	if c.device != nil {
		c.device.Release()
		c.device = nil
	}
}

func (c *Context) Config() Config {
	return c.cfg
}

func (c *Context) Adapter() gpu.AdapterInfo {
	return c.adapter
}

func (c *Context) Device() gpu.Device {
	return c.device
}

func (c *Context) Queue(t gpu.QueueType) gpu.Queue {
	return c.queues[t]
}

func (c *Context) Recorder(t gpu.QueueType) *CommandRecorder {
	return c.recorders[t]
}

func (c *Context) Swapchain() gpu.Swapchain {
	return c.swapchain
}

func (c *Context) BackBuffer(i uint32) *Resource {
	return c.backBuffers[i]
}

func (c *Context) DepthBuffer() *Resource {
	return c.depthBuffer
}

func (c *Context) DescriptorHeap() *DescriptorHeap {
	return c.heap
}

func (c *Context) Occlusion() *OcclusionQuery {
	return c.occlusion
}

func (c *Context) CurrentBackBufferIndex() uint32 {
	return c.currentBackBufferIndex
}

// FrameFenceValue is the fence value signaled after the last frame that
// rendered into back buffer i.
func (c *Context) FrameFenceValue(i uint32) uint64 {
	return c.frameFenceValues[i]
}

func (c *Context) Size() (uint32, uint32) {
	return c.width, c.height
}

func (c *Context) TearingSupported() bool {
	return c.tearingSupported
}
