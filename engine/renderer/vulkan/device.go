package vulkan

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

const maxBreadcrumbs = 64

type adapter struct {
	factory    *Factory
	physical   vk.PhysicalDevice
	info       gpu.AdapterInfo
	properties vk.PhysicalDeviceProperties
	limits     vk.PhysicalDeviceLimits
	features   vk.PhysicalDeviceFeatures
	memory     vk.PhysicalDeviceMemoryProperties

	// graphics renders, computes and presents. compute prefers an async
	// compute family and falls back to graphics.
	graphics queueKey
	compute  queueKey

	portability bool
}

func newAdapter(f *Factory, pd vk.PhysicalDevice) (*adapter, error) {
	a := &adapter{factory: f, physical: pd}
	vk.GetPhysicalDeviceProperties(pd, &a.properties)
	a.properties.Deref()
	a.limits = a.properties.Limits
	a.limits.Deref()
	vk.GetPhysicalDeviceFeatures(pd, &a.features)
	a.features.Deref()
	vk.GetPhysicalDeviceMemoryProperties(pd, &a.memory)
	a.memory.Deref()

	name := cString(a.properties.DeviceName[:])
	if err := a.selectQueueFamilies(); err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	if err := a.checkExtensions(); err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}

	var local uint64
	for i := uint32(0); i < a.memory.MemoryHeapCount; i++ {
		heap := a.memory.MemoryHeaps[i]
		heap.Deref()
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			local += uint64(heap.Size)
		}
	}
	a.info = gpu.AdapterInfo{
		Name:     name,
		VendorID: a.properties.VendorID,
		DeviceID: a.properties.DeviceID,
		// Integrated GPUs report shared memory as device local.
		DedicatedVideoMemory: local,
		Software:             a.properties.DeviceType == vk.PhysicalDeviceTypeCpu,
	}
	if a.properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		a.info.DedicatedVideoMemory = 0
	}
	return a, nil
}

func (a *adapter) selectQueueFamilies() error {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(a.physical, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(a.physical, &count, families)

	graphics, compute := -1, -1
	var graphicsQueues uint32
	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		var present vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(a.physical, uint32(i), a.factory.surface, &present); res != vk.Success {
			return resultError(res, "vkGetPhysicalDeviceSurfaceSupport")
		}
		if graphics < 0 && flags&vk.QueueGraphicsBit != 0 && flags&vk.QueueComputeBit != 0 && present == vk.True {
			graphics = i
			graphicsQueues = families[i].QueueCount
		}
		if compute < 0 && flags&vk.QueueComputeBit != 0 && flags&vk.QueueGraphicsBit == 0 {
			compute = i
		}
	}
	if graphics < 0 {
		return errors.Wrap(gpu.ErrUnsupported, "no queue family can render, compute and present")
	}
	a.graphics = queueKey{family: uint32(graphics)}
	switch {
	case compute >= 0:
		a.compute = queueKey{family: uint32(compute)}
	case graphicsQueues > 1:
		a.compute = queueKey{family: uint32(graphics), index: 1}
	default:
		a.compute = a.graphics
	}
	return nil
}

func (a *adapter) checkExtensions() error {
	var count uint32
	if err := resultError(vk.EnumerateDeviceExtensionProperties(a.physical, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return err
	}
	available := make([]vk.ExtensionProperties, count)
	if err := resultError(vk.EnumerateDeviceExtensionProperties(a.physical, "", &count, available), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return err
	}
	swapchain := false
	for i := range available {
		available[i].Deref()
		switch cString(available[i].ExtensionName[:]) {
		case "VK_KHR_swapchain":
			swapchain = true
		case "VK_KHR_portability_subset":
			a.portability = true
		}
	}
	if !swapchain {
		return errors.Wrap(gpu.ErrUnsupported, "VK_KHR_swapchain missing")
	}
	return nil
}

func (a *adapter) Info() gpu.AdapterInfo {
	return a.info
}

func (a *adapter) CreateDevice() (gpu.Device, error) {
	core.LogInfo("Creating logical device on %s...", a.info.Name)

	priorities := []float32{1.0, 1.0}
	queueCount := map[uint32]uint32{}
	for _, k := range []queueKey{a.graphics, a.compute} {
		queueCount[k.family] = max(queueCount[k.family], k.index+1)
	}
	var queueInfos []vk.DeviceQueueCreateInfo
	for family, n := range queueCount {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       n,
			PQueuePriorities: priorities[:n],
		})
	}

	features := vk.PhysicalDeviceFeatures{
		OcclusionQueryPrecise: a.features.OcclusionQueryPrecise,
	}
	extensions := []string{vk.KhrSwapchainExtensionName}
	if a.portability {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensions),
	}

	d := &Device{
		adapter:      a,
		locks:        NewVulkanLockPool(),
		renderPasses: make(map[renderPassKey]vk.RenderPass),
		framebuffers: make(map[framebufferKey]vk.Framebuffer),
		removed:      make(chan struct{}),
		nextAddress:  0x10000,
	}
	if err := resultError(vk.CreateDevice(a.physical, &createInfo, a.factory.allocator, &d.handle), "vkCreateDevice"); err != nil {
		return nil, err
	}
	core.LogInfo("Logical device created.")

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: a.graphics.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := resultError(vk.CreateCommandPool(d.handle, &poolInfo, d.allocator(), &d.immediatePool), "vkCreateCommandPool"); err != nil {
		d.Release()
		return nil, err
	}
	if err := d.createNullResources(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

type breadcrumb struct {
	queue     gpu.QueueType
	operation string
	completed atomic.Bool
}

// Device is a logical Vulkan device. Render passes and framebuffers are
// created on demand from the render targets a list binds.
type Device struct {
	adapter *adapter
	handle  vk.Device
	locks   *VulkanLockPool

	// immediatePool records one time submissions such as initial layout
	// transitions.
	immediatePool vk.CommandPool

	passMu       sync.Mutex
	renderPasses map[renderPassKey]vk.RenderPass
	framebuffers map[framebufferKey]vk.Framebuffer

	nullTexture *texture
	nullBuffer  *buffer

	mu          sync.Mutex
	lost        error
	removed     chan struct{}
	breadcrumbs []*breadcrumb
	nextAddress uint64
}

func (d *Device) allocator() *vk.AllocationCallbacks {
	return d.adapter.factory.allocator
}

func (d *Device) Features() gpu.Features {
	l := d.adapter.limits
	return gpu.Features{
		AllowTearing:      d.supportsPresentMode(vk.PresentModeImmediate),
		MaxDescriptors:    l.MaxDescriptorSetSampledImages,
		MaxRootConstants:  l.MaxPushConstantsSize / 4,
		TimestampPeriodNs: l.TimestampPeriod,
	}
}

func (d *Device) supportsPresentMode(mode vk.PresentMode) bool {
	modes, err := surfacePresentModes(d.adapter.physical, d.adapter.factory.surface)
	if err != nil {
		return false
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

// check converts a result and puts the device in the removed state when the
// driver reports it lost.
func (d *Device) check(res vk.Result, op string) error {
	err := resultError(res, op)
	if err != nil && gpu.IsDeviceLost(err) {
		d.markLost(err)
	}
	return err
}

func (d *Device) markLost(reason error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return
	}
	d.lost = errors.Mark(errors.Wrap(reason, "device removed"), gpu.ErrDeviceLost)
	close(d.removed)
}

func (d *Device) lostErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *Device) addBreadcrumb(q gpu.QueueType, op string) *breadcrumb {
	b := &breadcrumb{queue: q, operation: op}
	d.mu.Lock()
	d.breadcrumbs = append(d.breadcrumbs, b)
	if len(d.breadcrumbs) > maxBreadcrumbs {
		d.breadcrumbs = d.breadcrumbs[len(d.breadcrumbs)-maxBreadcrumbs:]
	}
	d.mu.Unlock()
	return b
}

// Diagnostics reports the recorded submissions. Page faults need
// VK_EXT_device_fault and are not reported.
func (d *Device) Diagnostics() gpu.Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	diag := gpu.Diagnostics{Reason: d.lost}
	for _, b := range d.breadcrumbs {
		diag.Breadcrumbs = append(diag.Breadcrumbs, gpu.Breadcrumb{
			Queue:     b.queue,
			Operation: b.operation,
			Completed: b.completed.Load(),
		})
	}
	return diag
}

// address hands out a unique range per resource for diagnostics. Buffer
// device addresses would need Vulkan 1.2.
func (d *Device) address(size uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	addr := d.nextAddress
	d.nextAddress += gpu.AlignUp(max(size, 1), 0x10000)
	return addr
}

func (d *Device) queueKey(t gpu.QueueType) queueKey {
	if t == gpu.QueueCompute {
		return d.adapter.compute
	}
	return d.adapter.graphics
}

// sharing lets resources be used from both queue families without
// ownership transfers.
func (d *Device) sharing() (vk.SharingMode, []uint32) {
	g, c := d.adapter.graphics.family, d.adapter.compute.family
	if g == c {
		return vk.SharingModeExclusive, nil
	}
	return vk.SharingModeConcurrent, []uint32{g, c}
}

func (d *Device) CreateQueue(t gpu.QueueType) (gpu.Queue, error) {
	if t >= gpu.QueueTypeCount {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "queue type %d", t)
	}
	key := d.queueKey(t)
	var handle vk.Queue
	vk.GetDeviceQueue(d.handle, key.family, key.index, &handle)
	return &queue{dev: d, typ: t, key: key, handle: handle}, nil
}

func (d *Device) CreateFence(initial uint64) (gpu.Fence, error) {
	f := &fence{dev: d}
	f.completed.Store(initial)
	return f, nil
}

func (d *Device) Footprint(desc gpu.TextureDesc) gpu.Footprint {
	return gpu.CopyableFootprint(desc)
}

// immediate records fn into a one time command buffer, submits it on the
// graphics queue and waits for it.
func (d *Device) immediate(fn func(cmd vk.CommandBuffer)) error {
	return d.locks.SafeCall(CommandPoolManagement, func() error {
		cmds := make([]vk.CommandBuffer, 1)
		allocInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        d.immediatePool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		if err := d.check(vk.AllocateCommandBuffers(d.handle, &allocInfo, cmds), "vkAllocateCommandBuffers"); err != nil {
			return err
		}
		defer vk.FreeCommandBuffers(d.handle, d.immediatePool, 1, cmds)

		beginInfo := vk.CommandBufferBeginInfo{
			SType: vk.StructureTypeCommandBufferBeginInfo,
			Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
		}
		if err := d.check(vk.BeginCommandBuffer(cmds[0], &beginInfo), "vkBeginCommandBuffer"); err != nil {
			return err
		}
		fn(cmds[0])
		if err := d.check(vk.EndCommandBuffer(cmds[0]), "vkEndCommandBuffer"); err != nil {
			return err
		}

		done, err := d.newFence()
		if err != nil {
			return err
		}
		defer vk.DestroyFence(d.handle, done, d.allocator())

		submit := vk.SubmitInfo{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: 1,
			PCommandBuffers:    cmds,
		}
		key := d.adapter.graphics
		var handle vk.Queue
		vk.GetDeviceQueue(d.handle, key.family, key.index, &handle)
		if err := d.locks.SafeQueueCall(key, func() error {
			return d.check(vk.QueueSubmit(handle, 1, []vk.SubmitInfo{submit}, done), "vkQueueSubmit")
		}); err != nil {
			return err
		}
		return d.waitFence(done)
	})
}

func (d *Device) newFence() (vk.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var f vk.Fence
	if err := d.check(vk.CreateFence(d.handle, &info, d.allocator(), &f), "vkCreateFence"); err != nil {
		return vk.NullFence, err
	}
	return f, nil
}

func (d *Device) newSemaphore() (vk.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var s vk.Semaphore
	if err := d.check(vk.CreateSemaphore(d.handle, &info, d.allocator(), &s), "vkCreateSemaphore"); err != nil {
		return vk.NullSemaphore, err
	}
	return s, nil
}

// fencePollInterval bounds each driver wait so a removed device is noticed.
const fencePollInterval = uint64(100_000_000)

// waitFence blocks until f signals or the device is lost.
func (d *Device) waitFence(f vk.Fence) error {
	for {
		res := vk.WaitForFences(d.handle, 1, []vk.Fence{f}, vk.True, fencePollInterval)
		switch res {
		case vk.Success:
			return nil
		case vk.Timeout:
			if err := d.lostErr(); err != nil {
				return err
			}
		default:
			return d.check(res, "vkWaitForFences")
		}
	}
}

func (d *Device) Release() {
	if d.handle == nil {
		return
	}
	vk.DeviceWaitIdle(d.handle)

	if d.nullTexture != nil {
		d.nullTexture.Release()
		d.nullTexture = nil
	}
	if d.nullBuffer != nil {
		d.nullBuffer.Release()
		d.nullBuffer = nil
	}
	d.passMu.Lock()
	for k, fb := range d.framebuffers {
		vk.DestroyFramebuffer(d.handle, fb, d.allocator())
		delete(d.framebuffers, k)
	}
	for k, rp := range d.renderPasses {
		vk.DestroyRenderPass(d.handle, rp, d.allocator())
		delete(d.renderPasses, k)
	}
	d.passMu.Unlock()

	if d.immediatePool != vk.NullCommandPool {
		core.LogInfo("Destroying command pools...")
		vk.DestroyCommandPool(d.handle, d.immediatePool, d.allocator())
		d.immediatePool = vk.NullCommandPool
	}
	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.handle, d.allocator())
	d.handle = nil
}
