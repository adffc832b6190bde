package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property flag, or -1.
func (d *Device) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	mem := d.adapter.memory
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		t := mem.MemoryTypes[i]
		t.Deref()
		if typeFilter&(1<<i) != 0 && t.PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	return -1
}

// allocate expects reqs to be dereferenced.
func (d *Device) allocate(reqs vk.MemoryRequirements, heap gpu.HeapType, name string) (vk.DeviceMemory, error) {
	var wanted []vk.MemoryPropertyFlags
	switch heap {
	case gpu.HeapUpload:
		wanted = []vk.MemoryPropertyFlags{
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
		}
	case gpu.HeapReadback:
		wanted = []vk.MemoryPropertyFlags{
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit),
		}
	default:
		wanted = []vk.MemoryPropertyFlags{vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)}
	}
	index := int32(-1)
	for _, flags := range wanted {
		if index = d.FindMemoryIndex(reqs.MemoryTypeBits, flags); index >= 0 {
			break
		}
	}
	if index < 0 {
		return vk.NullDeviceMemory, errors.Wrapf(gpu.ErrUnsupported, "no memory type for %q", name)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := d.check(vk.AllocateMemory(d.handle, &info, d.allocator(), &memory), "vkAllocateMemory"); err != nil {
		return vk.NullDeviceMemory, errors.Wrapf(err, "allocating %d bytes for %q", reqs.Size, name)
	}
	return memory, nil
}

type buffer struct {
	dev     *Device
	desc    gpu.BufferDesc
	name    string
	handle  vk.Buffer
	memory  vk.DeviceMemory
	mapped  []byte
	address uint64
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	if desc.Size == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer %q has no size", desc.Name)
	}
	usage := vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit |
		vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit | vk.BufferUsageStorageBufferBit
	sharing, families := d.sharing()
	info := vk.BufferCreateInfo{
		SType:                 vk.StructureTypeBufferCreateInfo,
		Size:                  vk.DeviceSize(desc.Size),
		Usage:                 vk.BufferUsageFlags(usage),
		SharingMode:           sharing,
		QueueFamilyIndexCount: uint32(len(families)),
		PQueueFamilyIndices:   families,
	}
	b := &buffer{dev: d, desc: desc, name: desc.Name}
	if err := d.check(vk.CreateBuffer(d.handle, &info, d.allocator(), &b.handle), "vkCreateBuffer"); err != nil {
		return nil, errors.Wrapf(err, "creating buffer %q", desc.Name)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.handle, &reqs)
	reqs.Deref()
	memory, err := d.allocate(reqs, desc.Heap, desc.Name)
	if err != nil {
		b.Release()
		return nil, err
	}
	b.memory = memory
	if err := d.check(vk.BindBufferMemory(d.handle, b.handle, memory, 0), "vkBindBufferMemory"); err != nil {
		b.Release()
		return nil, err
	}
	b.address = d.address(desc.Size)
	return b, nil
}

func (b *buffer) Name() string { return b.name }
func (b *buffer) SetName(name string) { b.name = name }
func (b *buffer) GPUAddress() uint64 { return b.address }
func (b *buffer) Desc() gpu.BufferDesc { return b.desc }

// Map keeps the memory mapped until the buffer is released.
func (b *buffer) Map() ([]byte, error) {
	if b.desc.Heap == gpu.HeapDefault {
		return nil, errors.Wrapf(gpu.ErrInvalidState, "mapping device local buffer %q", b.name)
	}
	if b.mapped != nil {
		return b.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := b.dev.check(vk.MapMemory(b.dev.handle, b.memory, 0, vk.DeviceSize(b.desc.Size), 0, &ptr), "vkMapMemory"); err != nil {
		return nil, err
	}
	b.mapped = unsafe.Slice((*byte)(ptr), b.desc.Size)
	return b.mapped, nil
}

func (b *buffer) Unmap() {}

func (b *buffer) Release() {
	if b.mapped != nil {
		vk.UnmapMemory(b.dev.handle, b.memory)
		b.mapped = nil
	}
	if b.handle != vk.NullBuffer {
		vk.DestroyBuffer(b.dev.handle, b.handle, b.dev.allocator())
		b.handle = vk.NullBuffer
	}
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.dev.handle, b.memory, b.dev.allocator())
		b.memory = vk.NullDeviceMemory
	}
}

type texture struct {
	dev     *Device
	desc    gpu.TextureDesc
	name    string
	image   vk.Image
	memory  vk.DeviceMemory
	view    vk.ImageView
	address uint64

	// Back buffers belong to their swap chain. Release only drops the
	// reference taken by Swapchain.Buffer.
	owner *swapchain
}

func (d *Device) CreateTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	t, err := d.createTexture(desc)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *Device) createTexture(desc gpu.TextureDesc) (*texture, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	format := vulkanFormat(desc.Format)
	if format == vk.FormatUndefined || desc.Width == 0 || desc.Height == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "texture %q: %dx%d format %d", desc.Name, desc.Width, desc.Height, desc.Format)
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}

	usage := vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit
	if desc.Flags&gpu.ResourceFlagAllowRenderTarget != 0 {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if desc.Flags&gpu.ResourceFlagAllowDepthStencil != 0 {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if desc.Flags&gpu.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= vk.ImageUsageStorageBit
	}
	sharing, families := d.sharing()
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  uint32(desc.Depth),
		},
		MipLevels:             uint32(desc.MipLevels),
		ArrayLayers:           1,
		Samples:               vk.SampleCount1Bit,
		Tiling:                vk.ImageTilingOptimal,
		Usage:                 vk.ImageUsageFlags(usage),
		SharingMode:           sharing,
		QueueFamilyIndexCount: uint32(len(families)),
		PQueueFamilyIndices:   families,
		InitialLayout:         vk.ImageLayoutUndefined,
	}
	t := &texture{dev: d, desc: desc, name: desc.Name}
	if err := d.check(vk.CreateImage(d.handle, &info, d.allocator(), &t.image), "vkCreateImage"); err != nil {
		return nil, errors.Wrapf(err, "creating texture %q", desc.Name)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, t.image, &reqs)
	reqs.Deref()
	memory, err := d.allocate(reqs, gpu.HeapDefault, desc.Name)
	if err != nil {
		t.destroy()
		return nil, err
	}
	t.memory = memory
	if err := d.check(vk.BindImageMemory(d.handle, t.image, memory, 0), "vkBindImageMemory"); err != nil {
		t.destroy()
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    t.image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectMask(desc.Format),
			LevelCount: uint32(desc.MipLevels),
			LayerCount: 1,
		},
	}
	if err := d.check(vk.CreateImageView(d.handle, &viewInfo, d.allocator(), &t.view), "vkCreateImageView"); err != nil {
		t.destroy()
		return nil, err
	}

	// Images start undefined. Move them into the layout of their initial
	// state so the first barrier starts from a known layout.
	initial := imageLayout(desc.InitialState)
	if err := d.immediate(func(cmd vk.CommandBuffer) {
		transitionImage(cmd, t, vk.ImageLayoutUndefined, initial, 0, accessMask(desc.InitialState))
	}); err != nil {
		t.destroy()
		return nil, errors.Wrapf(err, "initializing texture %q", desc.Name)
	}
	t.address = d.address(uint64(reqs.Size))
	return t, nil
}

func transitionImage(cmd vk.CommandBuffer, t *texture, from, to vk.ImageLayout, src, dst vk.AccessFlags) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       src,
		DstAccessMask:       dst,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               t.image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectMask(t.desc.Format),
			LevelCount: uint32(t.desc.MipLevels),
			LayerCount: 1,
		},
	}
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(cmd, all, all, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

func (t *texture) Name() string { return t.name }
func (t *texture) SetName(name string) { t.name = name }
func (t *texture) GPUAddress() uint64 { return t.address }
func (t *texture) Desc() gpu.TextureDesc { return t.desc }

func (t *texture) Release() {
	if t.owner != nil {
		t.owner.returnBuffer()
		return
	}
	t.destroy()
}

func (t *texture) destroy() {
	d := t.dev
	if t.view != vk.NullImageView {
		d.forgetFramebuffers(t.view)
		vk.DestroyImageView(d.handle, t.view, d.allocator())
		t.view = vk.NullImageView
	}
	if t.image != vk.NullImage {
		vk.DestroyImage(d.handle, t.image, d.allocator())
		t.image = vk.NullImage
	}
	if t.memory != vk.NullDeviceMemory {
		vk.FreeMemory(d.handle, t.memory, d.allocator())
		t.memory = vk.NullDeviceMemory
	}
}

// createNullResources makes the texture and buffer written in place of null
// descriptors. Both read as zero.
func (d *Device) createNullResources() error {
	tex, err := d.createTexture(gpu.TextureDesc{
		Width:        1,
		Height:       1,
		Format:       gpu.FormatR8G8B8A8Unorm,
		InitialState: gpu.StatePixelShaderResource,
		Name:         "Null Texture",
	})
	if err != nil {
		return err
	}
	d.nullTexture = tex
	buf, err := d.CreateBuffer(gpu.BufferDesc{Size: 256, Name: "Null Buffer"})
	if err != nil {
		return err
	}
	d.nullBuffer = buf.(*buffer)
	if err := d.immediate(func(cmd vk.CommandBuffer) {
		vk.CmdFillBuffer(cmd, d.nullBuffer.handle, 0, vk.DeviceSize(d.nullBuffer.desc.Size), 0)
		barrier := vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}
		vk.CmdPipelineBarrier(cmd,
			vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
	}); err != nil {
		return err
	}
	core.LogDebug("Null descriptors ready.")
	return nil
}
