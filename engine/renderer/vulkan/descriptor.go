package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type descriptorKind uint8

const (
	descriptorNull descriptorKind = iota
	descriptorTexture
	descriptorBuffer
)

type descriptor struct {
	kind   descriptorKind
	view   vk.ImageView
	buffer vk.Buffer
	offset vk.DeviceSize
	size   vk.DeviceSize
}

// descriptorHeap mirrors a shader visible heap on the CPU. Sets are written
// from the mirror when a list binds a table, so views can be created at any
// slot without touching live descriptor sets.
type descriptorHeap struct {
	dev  *Device
	desc gpu.DescriptorHeapDesc

	mu      sync.Mutex
	slots   []descriptor
	version uint64
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if desc.Capacity == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "descriptor heap %q has no capacity", desc.Name)
	}
	return &descriptorHeap{dev: d, desc: desc, slots: make([]descriptor, desc.Capacity)}, nil
}

func (h *descriptorHeap) Desc() gpu.DescriptorHeapDesc {
	return h.desc
}

func (h *descriptorHeap) Release() {}

func (h *descriptorHeap) write(slot uint32, v descriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[slot] = v
	h.version++
}

// snapshot copies count descriptors starting at base along with the heap
// version they belong to.
func (h *descriptorHeap) snapshot(base, count uint32) ([]descriptor, uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if uint64(base)+uint64(count) > uint64(len(h.slots)) {
		return nil, 0, errors.Wrapf(gpu.ErrInvalidArgument, "table [%d, %d) exceeds heap %q of %d", base, base+count, h.desc.Name, len(h.slots))
	}
	out := make([]descriptor, count)
	copy(out, h.slots[base:base+count])
	return out, h.version, nil
}

func (d *Device) viewTarget(heap gpu.DescriptorHeap, slot uint32) (*descriptorHeap, error) {
	h, ok := heap.(*descriptorHeap)
	if !ok {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "foreign descriptor heap %T", heap)
	}
	if slot >= h.desc.Capacity {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "slot %d outside heap %q of %d", slot, h.desc.Name, h.desc.Capacity)
	}
	return h, nil
}

func bufferRange(b *buffer, desc gpu.ViewDesc) (descriptor, error) {
	stride := uint64(desc.StructureByteStride)
	if stride == 0 {
		stride = 4
	}
	offset := desc.FirstElement * stride
	size := uint64(desc.NumElements) * stride
	if size == 0 || offset+size > b.desc.Size {
		return descriptor{}, errors.Wrapf(gpu.ErrInvalidArgument, "view [%d, %d) outside buffer %q of %d bytes", offset, offset+size, b.name, b.desc.Size)
	}
	return descriptor{
		kind:   descriptorBuffer,
		buffer: b.handle,
		offset: vk.DeviceSize(offset),
		size:   vk.DeviceSize(size),
	}, nil
}

func (d *Device) CreateShaderResourceView(res gpu.Resource, desc gpu.ViewDesc, heap gpu.DescriptorHeap, slot uint32) error {
	h, err := d.viewTarget(heap, slot)
	if err != nil {
		return err
	}
	switch r := res.(type) {
	case nil:
		h.write(slot, descriptor{})
	case *texture:
		if desc.Dimension != gpu.ViewDimensionTexture2D {
			return errors.Wrapf(gpu.ErrInvalidArgument, "buffer view of texture %q", r.name)
		}
		h.write(slot, descriptor{kind: descriptorTexture, view: r.view})
	case *buffer:
		if desc.Dimension != gpu.ViewDimensionBuffer {
			return errors.Wrapf(gpu.ErrInvalidArgument, "texture view of buffer %q", r.name)
		}
		v, err := bufferRange(r, desc)
		if err != nil {
			return err
		}
		h.write(slot, v)
	default:
		return errors.Wrapf(gpu.ErrInvalidArgument, "foreign resource %T", res)
	}
	return nil
}

func (d *Device) CreateUnorderedAccessView(res gpu.Resource, desc gpu.ViewDesc, heap gpu.DescriptorHeap, slot uint32) error {
	h, err := d.viewTarget(heap, slot)
	if err != nil {
		return err
	}
	switch r := res.(type) {
	case nil:
		h.write(slot, descriptor{})
	case *buffer:
		if r.desc.Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
			return errors.Wrapf(gpu.ErrInvalidArgument, "buffer %q does not allow unordered access", r.name)
		}
		v, err := bufferRange(r, desc)
		if err != nil {
			return err
		}
		h.write(slot, v)
	case *texture:
		return errors.Wrapf(gpu.ErrUnsupported, "unordered access view of texture %q", r.name)
	default:
		return errors.Wrapf(gpu.ErrInvalidArgument, "foreign resource %T", res)
	}
	return nil
}

const (
	descriptorPoolSets    = 256
	descriptorPoolEntries = 2048
)

type setKey struct {
	layout  vk.DescriptorSetLayout
	heap    *descriptorHeap
	base    uint32
	version uint64
}

func (a *commandAllocator) newDescriptorPool() (vk.DescriptorPool, error) {
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorPoolSets,
		PoolSizeCount: 2,
		PPoolSizes: []vk.DescriptorPoolSize{
			{Type: vk.DescriptorTypeSampledImage, DescriptorCount: descriptorPoolEntries},
			{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: descriptorPoolEntries},
		},
	}
	var pool vk.DescriptorPool
	err := a.dev.check(vk.CreateDescriptorPool(a.dev.handle, &poolInfo, a.dev.allocator(), &pool), "vkCreateDescriptorPool")
	return pool, err
}

// allocateSet takes a set from the current pool and chains a new pool once
// it runs dry.
func (a *commandAllocator) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	for {
		if a.descNext == len(a.descPools) {
			pool, err := a.newDescriptorPool()
			if err != nil {
				return vk.NullDescriptorSet, err
			}
			a.descPools = append(a.descPools, pool)
		}
		allocInfo := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     a.descPools[a.descNext],
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		var set vk.DescriptorSet
		switch res := vk.AllocateDescriptorSets(a.dev.handle, &allocInfo, &set); res {
		case vk.Success:
			return set, nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			a.descNext++
		default:
			return vk.NullDescriptorSet, a.dev.check(res, "vkAllocateDescriptorSets")
		}
	}
}

// tableSet returns a set holding count descriptors of heap starting at base.
// Sets are cached per heap version, so rebinding an unchanged table is free.
func (a *commandAllocator) tableSet(layout vk.DescriptorSetLayout, heap *descriptorHeap, base, count uint32) (vk.DescriptorSet, error) {
	entries, version, err := heap.snapshot(base, count)
	if err != nil {
		return vk.NullDescriptorSet, err
	}
	key := setKey{layout: layout, heap: heap, base: base, version: version}
	if set, ok := a.sets[key]; ok {
		return set, nil
	}
	set, err := a.allocateSet(layout)
	if err != nil {
		return vk.NullDescriptorSet, err
	}

	d := a.dev
	images := make([]vk.DescriptorImageInfo, count)
	buffers := make([]vk.DescriptorBufferInfo, count)
	for i, e := range entries {
		images[i] = vk.DescriptorImageInfo{
			ImageView:   d.nullTexture.view,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
		buffers[i] = vk.DescriptorBufferInfo{
			Buffer: d.nullBuffer.handle,
			Range:  vk.DeviceSize(d.nullBuffer.desc.Size),
		}
		switch e.kind {
		case descriptorTexture:
			images[i].ImageView = e.view
		case descriptorBuffer:
			buffers[i] = vk.DescriptorBufferInfo{Buffer: e.buffer, Offset: e.offset, Range: e.size}
		}
	}
	writes := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      tableTextureBinding,
			DescriptorCount: count,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			PImageInfo:      images,
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      tableBufferBinding,
			DescriptorCount: count,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			PBufferInfo:     buffers,
		},
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(writes)), writes, 0, nil)
	a.sets[key] = set
	return set, nil
}
