package vulkan

import (
	"fmt"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/core"
	engmath "github.com/spaghettifunk/modelviewer/engine/math"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

func surfacePresentModes(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.PresentMode, error) {
	var count uint32
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, nil), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	modes := make([]vk.PresentMode, count)
	if err := resultError(vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, modes), "vkGetPhysicalDeviceSurfacePresentModesKHR"); err != nil {
		return nil, err
	}
	return modes[:count], nil
}

func surfaceFormats(pd vk.PhysicalDevice, surface vk.Surface) ([]vk.SurfaceFormat, error) {
	var count uint32
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, nil), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := resultError(vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, formats), "vkGetPhysicalDeviceSurfaceFormatsKHR"); err != nil {
		return nil, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	return formats[:count], nil
}

func surfaceCapabilities(pd vk.PhysicalDevice, surface vk.Surface) (vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	if err := resultError(vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &caps), "vkGetPhysicalDeviceSurfaceCapabilitiesKHR"); err != nil {
		return caps, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	return caps, nil
}

// presentFrame holds the synchronization of one back buffer slot.
type presentFrame struct {
	cmd      vk.CommandBuffer
	fence    vk.Fence
	acquired vk.Semaphore
	rendered vk.Semaphore
	// Semaphores consumed by the last blit, destroyed once fence signals.
	retire []vk.Semaphore
}

/**
 * @brief Presents a fixed ring of back buffers owned by the device. The
 * driver may hand out any number of images, so Present blits the current
 * back buffer into whatever image it acquired.
 */
type swapchain struct {
	dev   *Device
	queue *queue
	desc  gpu.SwapchainDesc

	mu      sync.Mutex
	handle  vk.Swapchain
	format  vk.SurfaceFormat
	extent  vk.Extent2D
	mode    vk.PresentMode
	stale   bool
	buffers []*texture
	refs    int
	current uint32

	pool   vk.CommandPool
	frames []presentFrame
}

func (d *Device) CreateSwapchain(q gpu.Queue, desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	vq, ok := q.(*queue)
	if !ok || vq.typ != gpu.QueueGraphics {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "swap chains present from the graphics queue")
	}
	if desc.BufferCount < 2 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "swap chain needs at least 2 buffers, got %d", desc.BufferCount)
	}
	if desc.AllowTearing && !d.supportsPresentMode(vk.PresentModeImmediate) {
		return nil, errors.Wrap(gpu.ErrUnsupported, "tearing is not supported by the surface")
	}
	sc := &swapchain{dev: d, queue: vq, desc: desc, mode: vk.PresentModeFifo}

	formats, err := surfaceFormats(d.adapter.physical, d.adapter.factory.surface)
	if err != nil {
		return nil, err
	}
	if len(formats) == 0 {
		return nil, errors.Wrap(gpu.ErrUnsupported, "surface has no formats")
	}
	sc.format = formats[0]
	for _, f := range formats {
		if (f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm) &&
			f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			sc.format = f
			break
		}
	}

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: vq.key.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := d.check(vk.CreateCommandPool(d.handle, &poolInfo, d.allocator(), &sc.pool), "vkCreateCommandPool"); err != nil {
		return nil, err
	}
	if err := sc.createFrames(); err != nil {
		sc.Release()
		return nil, err
	}
	if err := sc.createBuffers(); err != nil {
		sc.Release()
		return nil, err
	}
	if err := sc.recreate(); err != nil {
		sc.Release()
		return nil, err
	}
	core.LogInfo("Swapchain created: %d buffers, %dx%d.", desc.BufferCount, sc.extent.Width, sc.extent.Height)
	return sc, nil
}

func (sc *swapchain) createFrames() error {
	d := sc.dev
	cmds := make([]vk.CommandBuffer, sc.desc.BufferCount)
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        sc.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: sc.desc.BufferCount,
	}
	if err := d.check(vk.AllocateCommandBuffers(d.handle, &allocInfo, cmds), "vkAllocateCommandBuffers"); err != nil {
		return err
	}
	sc.frames = make([]presentFrame, sc.desc.BufferCount)
	for i := range sc.frames {
		f := &sc.frames[i]
		f.cmd = cmds[i]
		// Start signalled so the first Present does not wait.
		fenceInfo := vk.FenceCreateInfo{
			SType: vk.StructureTypeFenceCreateInfo,
			Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit),
		}
		if err := d.check(vk.CreateFence(d.handle, &fenceInfo, d.allocator(), &f.fence), "vkCreateFence"); err != nil {
			return err
		}
		var err error
		if f.acquired, err = d.newSemaphore(); err != nil {
			return err
		}
		if f.rendered, err = d.newSemaphore(); err != nil {
			return err
		}
	}
	return nil
}

func (sc *swapchain) createBuffers() error {
	sc.buffers = make([]*texture, 0, sc.desc.BufferCount)
	for i := uint32(0); i < sc.desc.BufferCount; i++ {
		t, err := sc.dev.createTexture(gpu.TextureDesc{
			Width:        sc.desc.Width,
			Height:       sc.desc.Height,
			Depth:        1,
			MipLevels:    1,
			Format:       sc.desc.Format,
			Flags:        gpu.ResourceFlagAllowRenderTarget,
			InitialState: gpu.StatePresent,
			Name:         fmt.Sprintf("Back Buffer %d", i),
		})
		if err != nil {
			sc.destroyBuffers()
			return err
		}
		t.owner = sc
		sc.buffers = append(sc.buffers, t)
	}
	sc.current = 0
	return nil
}

func (sc *swapchain) destroyBuffers() {
	for _, t := range sc.buffers {
		t.destroy()
	}
	sc.buffers = nil
}

// recreate builds the driver swap chain for the current surface size and
// present mode. The old one is retired through OldSwapchain.
func (sc *swapchain) recreate() error {
	d := sc.dev
	pd, surface := d.adapter.physical, d.adapter.factory.surface
	caps, err := surfaceCapabilities(pd, surface)
	if err != nil {
		return err
	}
	if vk.ImageUsageFlagBits(caps.SupportedUsageFlags)&vk.ImageUsageTransferDstBit == 0 {
		return errors.Wrap(gpu.ErrUnsupported, "surface images cannot be blitted to")
	}

	extent := vk.Extent2D{Width: sc.desc.Width, Height: sc.desc.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = engmath.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = engmath.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		// Minimized. Present skips the blit until the window is back.
		sc.extent = extent
		sc.stale = true
		return nil
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    imageCount,
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.mode,
		Clipped:          vk.True,
		OldSwapchain:     sc.handle,
	}
	var handle vk.Swapchain
	if err := d.check(vk.CreateSwapchain(d.handle, &createInfo, d.allocator(), &handle), "vkCreateSwapchainKHR"); err != nil {
		return err
	}
	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(d.handle, sc.handle, d.allocator())
	}
	sc.handle = handle
	sc.extent = extent
	sc.stale = false
	return nil
}

// presentMode picks FIFO for synchronized presents. Unsynchronized presents
// tear only when asked to and fall back to mailbox.
func (sc *swapchain) presentMode(syncInterval uint32, flags gpu.PresentFlags) vk.PresentMode {
	if syncInterval > 0 {
		return vk.PresentModeFifo
	}
	if flags&gpu.PresentAllowTearing != 0 && sc.dev.supportsPresentMode(vk.PresentModeImmediate) {
		return vk.PresentModeImmediate
	}
	if sc.dev.supportsPresentMode(vk.PresentModeMailbox) {
		return vk.PresentModeMailbox
	}
	return vk.PresentModeFifo
}

func (sc *swapchain) BufferCount() uint32 {
	return sc.desc.BufferCount
}

func (sc *swapchain) Buffer(i uint32) (gpu.Texture, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if i >= uint32(len(sc.buffers)) {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "back buffer %d of %d", i, len(sc.buffers))
	}
	sc.refs++
	return sc.buffers[i], nil
}

func (sc *swapchain) returnBuffer() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.refs > 0 {
		sc.refs--
	}
}

func (sc *swapchain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

func (sc *swapchain) Present(syncInterval uint32, flags gpu.PresentFlags) error {
	if flags&gpu.PresentAllowTearing != 0 && (syncInterval != 0 || !sc.desc.AllowTearing) {
		return errors.Wrap(gpu.ErrInvalidArgument, "tearing requires sync interval 0 and a tearing swap chain")
	}
	if err := sc.dev.lostErr(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	defer func() { sc.current = (sc.current + 1) % uint32(len(sc.buffers)) }()

	if mode := sc.presentMode(syncInterval, flags); mode != sc.mode || sc.stale {
		sc.mode = mode
		if err := sc.waitIdleAndRecreate(); err != nil {
			return err
		}
	}
	if sc.stale {
		return nil
	}

	frame := &sc.frames[sc.current]
	if err := sc.dev.waitFence(frame.fence); err != nil {
		return err
	}
	for _, s := range frame.retire {
		vk.DestroySemaphore(sc.dev.handle, s, sc.dev.allocator())
	}
	frame.retire = nil

	var index uint32
	res := vk.AcquireNextImage(sc.dev.handle, sc.handle, vk.MaxUint64, frame.acquired, vk.NullFence, &index)
	if res == vk.ErrorOutOfDate {
		if err := sc.waitIdleAndRecreate(); err != nil || sc.stale {
			return err
		}
		res = vk.AcquireNextImage(sc.dev.handle, sc.handle, vk.MaxUint64, frame.acquired, vk.NullFence, &index)
	}
	if err := sc.dev.check(res, "vkAcquireNextImageKHR"); err != nil {
		return err
	}
	images, err := sc.images()
	if err != nil {
		return err
	}
	if err := sc.recordBlit(frame.cmd, sc.buffers[sc.current], images[index]); err != nil {
		return err
	}

	q := sc.queue
	return q.locked(func() error {
		if err := sc.dev.check(vk.ResetFences(sc.dev.handle, 1, []vk.Fence{frame.fence}), "vkResetFences"); err != nil {
			return err
		}
		crumb := sc.dev.addBreadcrumb(q.typ, "present "+sc.buffers[sc.current].name)
		consumed, err := q.submit(
			[]vk.CommandBuffer{frame.cmd},
			[]vk.Semaphore{frame.acquired},
			[]vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTransferBit)},
			[]vk.Semaphore{frame.rendered},
			frame.fence,
		)
		if err != nil {
			return err
		}
		frame.retire = consumed
		q.crumbs = append(q.crumbs, crumb)

		presentInfo := vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{frame.rendered},
			SwapchainCount:     1,
			PSwapchains:        []vk.Swapchain{sc.handle},
			PImageIndices:      []uint32{index},
		}
		switch res := vk.QueuePresent(q.handle, &presentInfo); res {
		case vk.Success:
		case vk.Suboptimal, vk.ErrorOutOfDate:
			sc.stale = true
		default:
			return sc.dev.check(res, "vkQueuePresentKHR")
		}
		return nil
	})
}

func (sc *swapchain) waitIdleAndRecreate() error {
	if err := sc.dev.check(vk.DeviceWaitIdle(sc.dev.handle), "vkDeviceWaitIdle"); err != nil {
		return err
	}
	return sc.recreate()
}

func (sc *swapchain) images() ([]vk.Image, error) {
	var count uint32
	if err := sc.dev.check(vk.GetSwapchainImages(sc.dev.handle, sc.handle, &count, nil), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	images := make([]vk.Image, count)
	if err := sc.dev.check(vk.GetSwapchainImages(sc.dev.handle, sc.handle, &count, images), "vkGetSwapchainImagesKHR"); err != nil {
		return nil, err
	}
	return images, nil
}

// recordBlit copies src, kept in the present state, into the acquired image
// and leaves that image ready for presentation.
func (sc *swapchain) recordBlit(cmd vk.CommandBuffer, src *texture, dst vk.Image) error {
	d := sc.dev
	if err := d.check(vk.ResetCommandBuffer(cmd, 0), "vkResetCommandBuffer"); err != nil {
		return err
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := d.check(vk.BeginCommandBuffer(cmd, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		return err
	}

	color := vk.ImageSubresourceRange{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LevelCount: 1,
		LayerCount: 1,
	}
	toTransfer := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferWriteBit),
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutTransferDstOptimal,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               dst,
		SubresourceRange:    color,
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toTransfer})

	layers := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	blit := vk.ImageBlit{
		SrcSubresource: layers,
		SrcOffsets: [2]vk.Offset3D{
			{},
			{X: int32(src.desc.Width), Y: int32(src.desc.Height), Z: 1},
		},
		DstSubresource: layers,
		DstOffsets: [2]vk.Offset3D{
			{},
			{X: int32(sc.extent.Width), Y: int32(sc.extent.Height), Z: 1},
		},
	}
	vk.CmdBlitImage(cmd, src.image, vk.ImageLayoutTransferSrcOptimal, dst, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{blit}, vk.FilterLinear)

	toPresent := toTransfer
	toPresent.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
	toPresent.DstAccessMask = 0
	toPresent.OldLayout = vk.ImageLayoutTransferDstOptimal
	toPresent.NewLayout = vk.ImageLayoutPresentSrc
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{toPresent})

	return d.check(vk.EndCommandBuffer(cmd), "vkEndCommandBuffer")
}

// ResizeBuffers fails while back buffers are referenced. The new buffers
// start in the present state and the ring restarts at index 0.
func (sc *swapchain) ResizeBuffers(width, height uint32) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.refs > 0 {
		return errors.Wrapf(gpu.ErrInvalidState, "%d back buffer references are still held", sc.refs)
	}
	if err := sc.dev.check(vk.DeviceWaitIdle(sc.dev.handle), "vkDeviceWaitIdle"); err != nil {
		return err
	}
	sc.destroyBuffers()
	sc.desc.Width, sc.desc.Height = width, height
	if err := sc.createBuffers(); err != nil {
		return err
	}
	return sc.recreate()
}

func (sc *swapchain) Release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	d := sc.dev
	vk.DeviceWaitIdle(d.handle)
	sc.destroyBuffers()
	for _, f := range sc.frames {
		vk.DestroyFence(d.handle, f.fence, d.allocator())
		vk.DestroySemaphore(d.handle, f.acquired, d.allocator())
		vk.DestroySemaphore(d.handle, f.rendered, d.allocator())
		for _, s := range f.retire {
			vk.DestroySemaphore(d.handle, s, d.allocator())
		}
	}
	sc.frames = nil
	if sc.pool != vk.NullCommandPool {
		vk.DestroyCommandPool(d.handle, sc.pool, d.allocator())
		sc.pool = vk.NullCommandPool
	}
	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(d.handle, sc.handle, d.allocator())
		sc.handle = vk.NullSwapchain
	}
	core.LogDebug("Swapchain destroyed.")
}
