package software

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

const maxBreadcrumbs = 64

// DrawRecord captures the bindings in effect when a draw executed.
type DrawRecord struct {
	Pipeline      gpu.Pipeline
	IndexCount    uint32
	InstanceCount uint32
	VertexBuffer  gpu.Buffer
	IndexBuffer   gpu.Buffer
	Constants     map[uint32][]uint32
	Tables        map[uint32]uint32
}

type DescriptorKind uint8

const (
	DescriptorEmpty DescriptorKind = iota
	DescriptorSRV
	DescriptorUAV
)

// DescriptorInfo describes what was written into one heap slot.
type DescriptorInfo struct {
	Kind     DescriptorKind
	Resource gpu.Resource
	Desc     gpu.ViewDesc
}

// Null reports whether the slot holds a view without a resource.
func (d DescriptorInfo) Null() bool {
	return d.Kind != DescriptorEmpty && d.Resource == nil
}

type breadcrumb struct {
	queue     gpu.QueueType
	operation string
	completed atomic.Bool
}

type Device struct {
	info gpu.AdapterInfo
	cfg  *config

	// exec serializes command execution across queues.
	exec sync.Mutex

	mu          sync.Mutex
	validation  []string
	draws       []DrawRecord
	dispatches  int
	kernels     map[string]gpu.Kernel
	breadcrumbs []*breadcrumb
	lost        error
	removed     chan struct{}
	pageFault   *gpu.PageFault
	resources   map[*resource]struct{}

	nextAddress uint64
	allocated   uint64
}

func newDevice(info gpu.AdapterInfo, cfg *config) *Device {
	return &Device{
		info:        info,
		cfg:         cfg,
		kernels:     make(map[string]gpu.Kernel),
		resources:   make(map[*resource]struct{}),
		removed:     make(chan struct{}),
		nextAddress: 0x10000,
	}
}

func (d *Device) Features() gpu.Features {
	return gpu.Features{
		AllowTearing:     d.cfg.allowTearing,
		MaxDescriptors:   d.cfg.maxDescriptors,
		MaxRootConstants: 64,
	}
}

func (d *Device) validationf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogWarn("software device validation: %s", msg)
	d.mu.Lock()
	d.validation = append(d.validation, msg)
	d.mu.Unlock()
}

// ValidationMessages returns every validation error raised so far.
func (d *Device) ValidationMessages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.validation...)
}

// Draws returns the draws executed since the last ResetDraws.
func (d *Device) Draws() []DrawRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DrawRecord(nil), d.draws...)
}

func (d *Device) ResetDraws() {
	d.mu.Lock()
	d.draws = nil
	d.mu.Unlock()
}

func (d *Device) Dispatches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dispatches
}

// LiveResources counts buffers and textures that were created and not yet released.
func (d *Device) LiveResources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resources)
}

// Descriptor reports the view written at slot of heap.
func (d *Device) Descriptor(heap gpu.DescriptorHeap, slot uint32) (DescriptorInfo, bool) {
	h, ok := heap.(*descriptorHeap)
	if !ok || slot >= uint32(len(h.slots)) {
		return DescriptorInfo{}, false
	}
	d.exec.Lock()
	defer d.exec.Unlock()
	return h.slots[slot], true
}

func (d *Device) RegisterKernel(name string, k gpu.Kernel) {
	d.mu.Lock()
	d.kernels[name] = k
	d.mu.Unlock()
}

func (d *Device) kernel(name string) (gpu.Kernel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.kernels[name]
	return k, ok
}

// Lose puts the device into the removed state. When faultAddress is not zero
// the resources covering it are reported as the page fault.
func (d *Device) Lose(reason error, faultAddress uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return
	}
	d.lost = errors.Mark(errors.Wrap(reason, "device removed"), gpu.ErrDeviceLost)
	close(d.removed)
	if faultAddress != 0 {
		pf := &gpu.PageFault{Address: faultAddress}
		for r := range d.resources {
			if faultAddress >= r.address && faultAddress < r.address+r.size {
				pf.Resources = append(pf.Resources, r.name)
			}
		}
		d.pageFault = pf
	}
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

func (d *Device) Diagnostics() gpu.Diagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	diag := gpu.Diagnostics{Reason: d.lost, PageFault: d.pageFault}
	for _, b := range d.breadcrumbs {
		diag.Breadcrumbs = append(diag.Breadcrumbs, gpu.Breadcrumb{
			Queue:     b.queue,
			Operation: b.operation,
			Completed: b.completed.Load(),
		})
	}
	return diag
}

func (d *Device) allocate(r *resource, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return d.lost
	}
	if d.allocated+size > d.cfg.memoryBudget {
		return errors.Wrapf(gpu.ErrOutOfMemory, "allocating %d bytes for %q (%d of %d in use)", size, r.name, d.allocated, d.cfg.memoryBudget)
	}
	d.allocated += size
	r.address = d.nextAddress
	r.size = size
	d.nextAddress += gpu.AlignUp(size, 1<<16)
	d.resources[r] = struct{}{}
	return nil
}

func (d *Device) free(r *resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.resources[r]; !ok {
		return
	}
	delete(d.resources, r)
	d.allocated -= r.size
}

func (d *Device) CreateQueue(t gpu.QueueType) (gpu.Queue, error) {
	if t >= gpu.QueueTypeCount {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "queue type %d", t)
	}
	return newQueue(d, t), nil
}

func (d *Device) CreateCommandAllocator(t gpu.QueueType) (gpu.CommandAllocator, error) {
	return &commandAllocator{dev: d, typ: t}, nil
}

func (d *Device) CreateCommandList(t gpu.QueueType, allocator gpu.CommandAllocator) (gpu.CommandList, error) {
	a, ok := allocator.(*commandAllocator)
	if !ok || a.typ != t {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "command allocator type does not match the list")
	}
	return &commandList{dev: d, typ: t, alloc: a}, nil
}

func (d *Device) CreateFence(initial uint64) (gpu.Fence, error) {
	return &fence{completed: initial}, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer %q has zero size", desc.Name)
	}
	switch desc.Heap {
	case gpu.HeapUpload:
		if desc.InitialState != gpu.StateGenericRead {
			return nil, errors.Wrapf(gpu.ErrInvalidArgument, "upload buffer %q must start in GENERIC_READ", desc.Name)
		}
	case gpu.HeapReadback:
		if desc.InitialState != gpu.StateCopyDest {
			return nil, errors.Wrapf(gpu.ErrInvalidArgument, "readback buffer %q must start in COPY_DEST", desc.Name)
		}
	}
	if desc.Heap != gpu.HeapDefault && desc.Flags&gpu.ResourceFlagAllowUnorderedAccess != 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer %q: unordered access needs the default heap", desc.Name)
	}
	b := &buffer{desc: desc}
	b.resource = resource{dev: d, name: desc.Name, state: desc.InitialState, flags: desc.Flags}
	if err := d.allocate(&b.resource, desc.Size); err != nil {
		return nil, err
	}
	b.data = make([]byte, desc.Size)
	return b, nil
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "texture %q has zero extent", desc.Name)
	}
	if desc.Format.BytesPerPixel() == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "texture %q has no format", desc.Name)
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	t := newTexture(d, desc)
	if err := d.allocate(&t.resource, uint64(len(t.data))); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Device) Footprint(desc gpu.TextureDesc) gpu.Footprint {
	return gpu.CopyableFootprint(desc)
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if desc.Capacity == 0 || desc.Capacity > d.cfg.maxDescriptors {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "descriptor heap capacity %d (max %d)", desc.Capacity, d.cfg.maxDescriptors)
	}
	return &descriptorHeap{desc: desc, slots: make([]DescriptorInfo, desc.Capacity)}, nil
}

func (d *Device) writeView(kind DescriptorKind, res gpu.Resource, desc gpu.ViewDesc, heap gpu.DescriptorHeap, slot uint32) error {
	h, ok := heap.(*descriptorHeap)
	if !ok {
		return errors.Wrap(gpu.ErrInvalidArgument, "foreign descriptor heap")
	}
	if slot >= uint32(len(h.slots)) {
		return errors.Wrapf(gpu.ErrInvalidArgument, "descriptor slot %d out of range (capacity %d)", slot, len(h.slots))
	}
	if res != nil {
		r := baseOf(res)
		if r == nil {
			return errors.Wrap(gpu.ErrInvalidArgument, "foreign resource")
		}
		if kind == DescriptorUAV && r.flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
			return errors.Wrapf(gpu.ErrInvalidArgument, "resource %q does not allow unordered access", r.name)
		}
		if b, ok := res.(*buffer); ok {
			end := (desc.FirstElement + uint64(desc.NumElements)) * uint64(desc.StructureByteStride)
			if desc.Dimension != gpu.ViewDimensionBuffer || desc.StructureByteStride == 0 || end > b.desc.Size {
				return errors.Wrapf(gpu.ErrInvalidArgument, "buffer view of %q exceeds %d bytes", r.name, b.desc.Size)
			}
		}
	}
	d.exec.Lock()
	h.slots[slot] = DescriptorInfo{Kind: kind, Resource: res, Desc: desc}
	d.exec.Unlock()
	return nil
}

func (d *Device) CreateShaderResourceView(res gpu.Resource, desc gpu.ViewDesc, heap gpu.DescriptorHeap, slot uint32) error {
	return d.writeView(DescriptorSRV, res, desc, heap, slot)
}

func (d *Device) CreateUnorderedAccessView(res gpu.Resource, desc gpu.ViewDesc, heap gpu.DescriptorHeap, slot uint32) error {
	return d.writeView(DescriptorUAV, res, desc, heap, slot)
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	cost := uint32(0)
	for i, p := range desc.Parameters {
		switch p.Type {
		case gpu.RootParameterConstants:
			if p.Num32BitValues == 0 {
				return nil, errors.Wrapf(gpu.ErrInvalidArgument, "root parameter %d has no constants", i)
			}
			cost += p.Num32BitValues
		case gpu.RootParameterTable:
			if p.NumDescriptors == 0 {
				return nil, errors.Wrapf(gpu.ErrInvalidArgument, "root parameter %d has an empty table", i)
			}
			cost++
		}
	}
	if cost > 64 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "root signature %q costs %d DWORDs (max 64)", desc.Name, cost)
	}
	return &rootSignature{desc: desc}, nil
}

func (d *Device) CreateGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	if desc.RootSignature == nil {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "pipeline %q has no root signature", desc.Name)
	}
	if len(desc.VS) == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "pipeline %q has no vertex shader", desc.Name)
	}
	return &pipeline{graphics: desc, rootSig: desc.RootSignature}, nil
}

func (d *Device) CreateComputePipeline(desc gpu.ComputePipelineDesc) (gpu.Pipeline, error) {
	if desc.RootSignature == nil {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "pipeline %q has no root signature", desc.Name)
	}
	if desc.Name == "" {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "compute pipelines need a kernel name")
	}
	return &pipeline{compute: true, kernel: desc.Name, rootSig: desc.RootSignature}, nil
}

func (d *Device) CreateQueryHeap(desc gpu.QueryHeapDesc) (gpu.QueryHeap, error) {
	if desc.Count == 0 {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "query heap needs at least one query")
	}
	return &queryHeap{desc: desc, results: make([]uint64, desc.Count), active: make(map[uint32]bool)}, nil
}

func (d *Device) CreateSwapchain(presentQueue gpu.Queue, desc gpu.SwapchainDesc) (gpu.Swapchain, error) {
	q, ok := presentQueue.(*queue)
	if !ok || q.typ != gpu.QueueGraphics {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "swap chains present from a graphics queue")
	}
	if desc.BufferCount < 2 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "swap chain needs at least 2 buffers, got %d", desc.BufferCount)
	}
	if desc.AllowTearing && !d.cfg.allowTearing {
		return nil, errors.Wrap(gpu.ErrUnsupported, "tearing")
	}
	sc := &swapchain{dev: d, queue: q, desc: desc, rotate: d.cfg.rotate}
	sc.createBuffers()
	return sc, nil
}

func (d *Device) Release() {}
