package vulkan

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

/**
 * @brief Owns the command buffers and descriptor sets recorded by the lists
 * reset on it. Both are recycled together on Reset.
 */
type commandAllocator struct {
	dev  *Device
	typ  gpu.QueueType
	pool vk.CommandPool

	mu sync.Mutex
	/** @brief Command buffers handed out since the last reset. */
	buffers []vk.CommandBuffer
	next    int

	descPools []vk.DescriptorPool
	descNext  int
	sets      map[setKey]vk.DescriptorSet
}

func (d *Device) CreateCommandAllocator(t gpu.QueueType) (gpu.CommandAllocator, error) {
	if err := d.lostErr(); err != nil {
		return nil, err
	}
	if t >= gpu.QueueTypeCount {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "queue type %d", t)
	}
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueKey(t).family,
	}
	a := &commandAllocator{dev: d, typ: t, sets: make(map[setKey]vk.DescriptorSet)}
	if err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return d.check(vk.CreateCommandPool(d.handle, &poolInfo, d.allocator(), &a.pool), "vkCreateCommandPool")
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// begin hands out the next command buffer and starts recording it.
func (a *commandAllocator) begin() (vk.CommandBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next == len(a.buffers) {
		cmds := make([]vk.CommandBuffer, 1)
		allocInfo := vk.CommandBufferAllocateInfo{
			SType:              vk.StructureTypeCommandBufferAllocateInfo,
			CommandPool:        a.pool,
			Level:              vk.CommandBufferLevelPrimary,
			CommandBufferCount: 1,
		}
		if err := a.dev.check(vk.AllocateCommandBuffers(a.dev.handle, &allocInfo, cmds), "vkAllocateCommandBuffers"); err != nil {
			return nil, err
		}
		a.buffers = append(a.buffers, cmds[0])
	}
	cmd := a.buffers[a.next]
	a.next++
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := a.dev.check(vk.BeginCommandBuffer(cmd, &beginInfo), "vkBeginCommandBuffer"); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Reset recycles every command buffer and descriptor set. The GPU must be
// done with the lists recorded from a.
func (a *commandAllocator) Reset() error {
	if err := a.dev.lostErr(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.dev.check(vk.ResetCommandPool(a.dev.handle, a.pool, 0), "vkResetCommandPool"); err != nil {
		return err
	}
	a.next = 0
	for _, p := range a.descPools {
		if err := a.dev.check(vk.ResetDescriptorPool(a.dev.handle, p, 0), "vkResetDescriptorPool"); err != nil {
			return err
		}
	}
	a.descNext = 0
	clear(a.sets)
	return nil
}

func (a *commandAllocator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.descPools {
		vk.DestroyDescriptorPool(a.dev.handle, p, a.dev.allocator())
	}
	a.descPools = nil
	if a.pool != vk.NullCommandPool {
		_ = a.dev.locks.SafeCall(CommandPoolManagement, func() error {
			vk.DestroyCommandPool(a.dev.handle, a.pool, a.dev.allocator())
			return nil
		})
		a.pool = vk.NullCommandPool
	}
	a.buffers = nil
}

type commandList struct {
	dev       *Device
	typ       gpu.QueueType
	alloc     *commandAllocator
	handle    vk.CommandBuffer
	recording bool
	err       error

	rootSig  *rootSignature
	pipeline *pipeline
	heap     *descriptorHeap
	tables   map[uint32]uint32

	color  *texture
	depth  *texture
	inPass bool
}

func (d *Device) CreateCommandList(t gpu.QueueType, allocator gpu.CommandAllocator) (gpu.CommandList, error) {
	a, ok := allocator.(*commandAllocator)
	if !ok || a.typ != t {
		return nil, errors.Wrap(gpu.ErrInvalidArgument, "command allocator type does not match the list")
	}
	return &commandList{dev: d, typ: t, alloc: a, tables: make(map[uint32]uint32)}, nil
}

func (l *commandList) Type() gpu.QueueType {
	return l.typ
}

func (l *commandList) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// ready reports whether commands may be recorded.
func (l *commandList) ready() bool {
	if !l.recording {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "recording into a closed command list"))
		return false
	}
	return l.err == nil
}

func (l *commandList) Reset(allocator gpu.CommandAllocator, initial gpu.Pipeline) error {
	a, ok := allocator.(*commandAllocator)
	if !ok || a.typ != l.typ {
		return errors.Wrap(gpu.ErrInvalidArgument, "command allocator type does not match the list")
	}
	if l.recording {
		return errors.Wrap(gpu.ErrInvalidState, "command list reset while recording")
	}
	cmd, err := a.begin()
	if err != nil {
		return err
	}
	l.alloc = a
	l.handle = cmd
	l.err = nil
	l.recording = true
	l.rootSig, l.pipeline, l.heap = nil, nil, nil
	clear(l.tables)
	l.color, l.depth = nil, nil
	l.inPass = false
	if initial != nil {
		l.SetPipeline(initial)
	}
	return nil
}

// Close ends recording. The buffer is closed even after a recording error so
// the allocator can recycle it.
func (l *commandList) Close() error {
	if !l.recording {
		return errors.Wrap(gpu.ErrInvalidState, "command list closed twice")
	}
	l.endPass()
	l.recording = false
	if err := l.dev.check(vk.EndCommandBuffer(l.handle), "vkEndCommandBuffer"); err != nil {
		l.fail(err)
	}
	return l.err
}

func (l *commandList) endPass() {
	if l.inPass {
		vk.CmdEndRenderPass(l.handle)
		l.inPass = false
	}
}

// beginPass starts a render pass over the given attachments.
func (l *commandList) beginPass(color, depth *texture) error {
	key := renderPassKey{color: vk.FormatUndefined, depth: vk.FormatUndefined}
	fbKey := framebufferKey{}
	var width, height uint32
	if color != nil {
		key.color = vulkanFormat(color.desc.Format)
		fbKey.color = color.view
		width, height = color.desc.Width, color.desc.Height
	}
	if depth != nil {
		key.depth = vulkanFormat(depth.desc.Format)
		fbKey.depth = depth.view
		if color == nil {
			width, height = depth.desc.Width, depth.desc.Height
		} else {
			width, height = min(width, depth.desc.Width), min(height, depth.desc.Height)
		}
	}
	if color == nil && depth == nil {
		return errors.Wrap(gpu.ErrInvalidState, "draw without render targets")
	}
	pass, err := l.dev.getRenderPass(key)
	if err != nil {
		return err
	}
	fbKey.pass, fbKey.width, fbKey.height = pass, width, height
	fb, err := l.dev.getFramebuffer(fbKey)
	if err != nil {
		return err
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: width, Height: height},
		},
	}
	vk.CmdBeginRenderPass(l.handle, &beginInfo, vk.SubpassContentsInline)
	l.inPass = true
	return nil
}

func (l *commandList) ResourceBarrier(barriers ...gpu.Barrier) {
	if !l.ready() {
		return
	}
	l.endPass()
	var (
		images []vk.ImageMemoryBarrier
		memory []vk.MemoryBarrier
	)
	for _, b := range barriers {
		if b.Resource == nil {
			l.fail(errors.Wrap(gpu.ErrInvalidArgument, "barrier on a nil resource"))
			return
		}
		if b.Before == b.After && b.Before != gpu.StateUnorderedAccess {
			l.fail(errors.Wrapf(gpu.ErrInvalidArgument, "barrier on %q does not change state %s", b.Resource.Name(), b.Before))
			return
		}
		switch r := b.Resource.(type) {
		case *texture:
			images = append(images, vk.ImageMemoryBarrier{
				SType:               vk.StructureTypeImageMemoryBarrier,
				SrcAccessMask:       accessMask(b.Before),
				DstAccessMask:       accessMask(b.After),
				OldLayout:           imageLayout(b.Before),
				NewLayout:           imageLayout(b.After),
				SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
				DstQueueFamilyIndex: vk.QueueFamilyIgnored,
				Image:               r.image,
				SubresourceRange: vk.ImageSubresourceRange{
					AspectMask: aspectMask(r.desc.Format),
					LevelCount: uint32(r.desc.MipLevels),
					LayerCount: 1,
				},
			})
		case *buffer:
			memory = append(memory, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: accessMask(b.Before),
				DstAccessMask: accessMask(b.After),
			})
		default:
			l.fail(errors.Wrapf(gpu.ErrInvalidArgument, "barrier on foreign resource %T", b.Resource))
			return
		}
	}
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(l.handle, all, all, 0,
		uint32(len(memory)), memory, 0, nil, uint32(len(images)), images)
}

// hostBarrier makes transfer writes visible to the CPU once the submission
// finished.
func (l *commandList) hostBarrier(dst *buffer) {
	if dst.desc.Heap != gpu.HeapReadback {
		return
	}
	barrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessHostReadBit),
	}
	vk.CmdPipelineBarrier(l.handle,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageHostBit),
		0, 1, []vk.MemoryBarrier{barrier}, 0, nil, 0, nil)
}

func (l *commandList) CopyBufferRegion(dst gpu.Buffer, dstOffset uint64, src gpu.Buffer, srcOffset uint64, size uint64) {
	if !l.ready() {
		return
	}
	d, dok := dst.(*buffer)
	s, sok := src.(*buffer)
	if !dok || !sok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "copy between foreign buffers"))
		return
	}
	if srcOffset+size > s.desc.Size || dstOffset+size > d.desc.Size {
		l.fail(errors.Wrapf(gpu.ErrInvalidArgument, "copy of %d bytes from %q to %q is out of bounds", size, s.name, d.name))
		return
	}
	l.endPass()
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(l.handle, s.handle, d.handle, 1, []vk.BufferCopy{region})
	l.hostBarrier(d)
}

func footprintRegion(t *texture, fp gpu.Footprint) (vk.BufferImageCopy, error) {
	bpp := fp.Format.BytesPerPixel()
	if bpp == 0 || fp.RowPitch%bpp != 0 || fp.Width != t.desc.Width || fp.Height != t.desc.Height {
		return vk.BufferImageCopy{}, errors.Wrapf(gpu.ErrInvalidArgument, "footprint %dx%d pitch %d does not match %q", fp.Width, fp.Height, fp.RowPitch, t.name)
	}
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(fp.Offset),
		BufferRowLength:   fp.RowPitch / bpp,
		BufferImageHeight: fp.Height,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: aspectMask(t.desc.Format),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: fp.Width, Height: fp.Height, Depth: max(fp.Depth, 1)},
	}, nil
}

func (l *commandList) CopyBufferToTexture(dst gpu.Texture, src gpu.Buffer, fp gpu.Footprint) {
	if !l.ready() {
		return
	}
	t, tok := dst.(*texture)
	b, bok := src.(*buffer)
	if !tok || !bok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "copy between foreign resources"))
		return
	}
	region, err := footprintRegion(t, fp)
	if err != nil {
		l.fail(err)
		return
	}
	l.endPass()
	vk.CmdCopyBufferToImage(l.handle, b.handle, t.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

func (l *commandList) CopyTextureToBuffer(dst gpu.Buffer, fp gpu.Footprint, src gpu.Texture) {
	if !l.ready() {
		return
	}
	t, tok := src.(*texture)
	b, bok := dst.(*buffer)
	if !tok || !bok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "copy between foreign resources"))
		return
	}
	region, err := footprintRegion(t, fp)
	if err != nil {
		l.fail(err)
		return
	}
	l.endPass()
	vk.CmdCopyImageToBuffer(l.handle, t.image, vk.ImageLayoutTransferSrcOptimal, b.handle, 1, []vk.BufferImageCopy{region})
	l.hostBarrier(b)
}

// clear runs a render pass over target alone and clears it inside, since
// attachments stay in their attachment layouts.
func (l *commandList) clear(t *texture, value vk.ClearValue) {
	l.endPass()
	var err error
	if t.desc.Format.IsDepth() {
		err = l.beginPass(nil, t)
	} else {
		err = l.beginPass(t, nil)
	}
	if err != nil {
		l.fail(err)
		return
	}
	attachment := vk.ClearAttachment{
		AspectMask: aspectMask(t.desc.Format),
		ClearValue: value,
	}
	rect := vk.ClearRect{
		Rect:       vk.Rect2D{Extent: vk.Extent2D{Width: t.desc.Width, Height: t.desc.Height}},
		LayerCount: 1,
	}
	vk.CmdClearAttachments(l.handle, 1, []vk.ClearAttachment{attachment}, 1, []vk.ClearRect{rect})
	l.endPass()
}

func (l *commandList) ClearRenderTarget(target gpu.Texture, color [4]float32) {
	if !l.ready() {
		return
	}
	t, ok := target.(*texture)
	if !ok || t.desc.Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "clear of a texture that is not a render target"))
		return
	}
	var value vk.ClearValue
	value.SetColor(color[:])
	l.clear(t, value)
}

func (l *commandList) ClearDepth(target gpu.Texture, depth float32) {
	if !l.ready() {
		return
	}
	t, ok := target.(*texture)
	if !ok || !t.desc.Format.IsDepth() {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "clear of a texture that is not a depth buffer"))
		return
	}
	var value vk.ClearValue
	value.SetDepthStencil(depth, 0)
	l.clear(t, value)
}

func (l *commandList) SetRenderTargets(color gpu.Texture, depth gpu.Texture) {
	if !l.ready() {
		return
	}
	var ct, dt *texture
	if color != nil {
		ct, _ = color.(*texture)
	}
	if depth != nil {
		dt, _ = depth.(*texture)
	}
	if ct != l.color || dt != l.depth {
		l.endPass()
	}
	l.color, l.depth = ct, dt
}

// SetViewport flips the viewport so clip space keeps y pointing up.
func (l *commandList) SetViewport(vp gpu.Viewport) {
	if !l.ready() {
		return
	}
	viewport := vk.Viewport{
		X:        vp.X,
		Y:        vp.Y + vp.Height,
		Width:    vp.Width,
		Height:   -vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}
	vk.CmdSetViewport(l.handle, 0, 1, []vk.Viewport{viewport})
}

func (l *commandList) SetScissor(r gpu.Rect) {
	if !l.ready() {
		return
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: r.Left, Y: r.Top},
		Extent: vk.Extent2D{Width: uint32(max(r.Right-r.Left, 0)), Height: uint32(max(r.Bottom-r.Top, 0))},
	}
	vk.CmdSetScissor(l.handle, 0, 1, []vk.Rect2D{scissor})
}

func (l *commandList) SetPipeline(p gpu.Pipeline) {
	if !l.ready() {
		return
	}
	vp, ok := p.(*pipeline)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign pipeline"))
		return
	}
	if vp.IsCompute() {
		l.endPass()
	}
	vk.CmdBindPipeline(l.handle, vp.bindPoint, vp.handle)
	l.pipeline = vp
}

func (l *commandList) SetRootSignature(rs gpu.RootSignature) {
	if !l.ready() {
		return
	}
	vrs, ok := rs.(*rootSignature)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign root signature"))
		return
	}
	// Changing the root signature invalidates all root arguments.
	if l.rootSig != vrs {
		clear(l.tables)
	}
	l.rootSig = vrs
}

func (l *commandList) SetDescriptorHeap(heap gpu.DescriptorHeap) {
	if !l.ready() {
		return
	}
	h, ok := heap.(*descriptorHeap)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign descriptor heap"))
		return
	}
	l.heap = h
}

func (l *commandList) parameter(slot uint32, want gpu.RootParameterType) (gpu.RootParameter, bool) {
	if l.rootSig == nil {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "root argument set without a root signature"))
		return gpu.RootParameter{}, false
	}
	params := l.rootSig.desc.Parameters
	if int(slot) >= len(params) || params[slot].Type != want {
		l.fail(errors.Wrapf(gpu.ErrInvalidArgument, "root parameter %d of %s has the wrong type", slot, l.rootSig.desc.Name))
		return gpu.RootParameter{}, false
	}
	return params[slot], true
}

func (l *commandList) SetRootConstants(slot uint32, values []uint32) {
	if !l.ready() || len(values) == 0 {
		return
	}
	p, ok := l.parameter(slot, gpu.RootParameterConstants)
	if !ok {
		return
	}
	if uint32(len(values)) > p.Num32BitValues {
		l.fail(errors.Wrapf(gpu.ErrInvalidArgument, "%d constants for parameter %d of %d", len(values), slot, p.Num32BitValues))
		return
	}
	rs := l.rootSig
	vk.CmdPushConstants(l.handle, rs.layout, rs.pushStages, rs.pushOffset[slot], uint32(4*len(values)), unsafe.Pointer(&values[0]))
}

func (l *commandList) SetRootDescriptorTable(slot uint32, base uint32) {
	if !l.ready() {
		return
	}
	if _, ok := l.parameter(slot, gpu.RootParameterTable); ok {
		l.tables[slot] = base
	}
}

// bindTables writes and binds the descriptor sets of every table of the
// root signature.
func (l *commandList) bindTables(bindPoint vk.PipelineBindPoint) error {
	rs := l.rootSig
	sets := make([]vk.DescriptorSet, 0, len(rs.setLayouts))
	for i, p := range rs.desc.Parameters {
		if rs.setIndex[i] < 0 {
			continue
		}
		base, ok := l.tables[uint32(i)]
		if !ok {
			return errors.Wrapf(gpu.ErrInvalidState, "table %d of %s is not set", i, rs.desc.Name)
		}
		if l.heap == nil {
			return errors.Wrap(gpu.ErrInvalidState, "table bound without a descriptor heap")
		}
		l.alloc.mu.Lock()
		set, err := l.alloc.tableSet(rs.setLayouts[rs.setIndex[i]], l.heap, base, p.NumDescriptors)
		l.alloc.mu.Unlock()
		if err != nil {
			return err
		}
		sets = append(sets, set)
	}
	if rs.hasSamplers {
		sets = append(sets, rs.samplerSet)
	}
	if len(sets) > 0 {
		vk.CmdBindDescriptorSets(l.handle, bindPoint, rs.layout, 0, uint32(len(sets)), sets, 0, nil)
	}
	return nil
}

func (l *commandList) SetVertexBuffer(view gpu.VertexBufferView) {
	if !l.ready() {
		return
	}
	b, ok := view.Buffer.(*buffer)
	if !ok {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "foreign vertex buffer"))
		return
	}
	vk.CmdBindVertexBuffers(l.handle, 0, 1, []vk.Buffer{b.handle}, []vk.DeviceSize{vk.DeviceSize(view.Offset)})
}

func (l *commandList) SetIndexBuffer(view gpu.IndexBufferView) {
	if !l.ready() {
		return
	}
	b, ok := view.Buffer.(*buffer)
	if !ok || view.Format != gpu.FormatR32Uint {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "index buffers must be 32-bit and device owned"))
		return
	}
	vk.CmdBindIndexBuffer(l.handle, b.handle, vk.DeviceSize(view.Offset), vk.IndexTypeUint32)
}

func (l *commandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if !l.ready() {
		return
	}
	if l.typ != gpu.QueueGraphics {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "draw recorded into a compute list"))
		return
	}
	if l.pipeline == nil || l.pipeline.IsCompute() || l.rootSig == nil {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "draw without a graphics pipeline and root signature"))
		return
	}
	if !l.inPass {
		if err := l.beginPass(l.color, l.depth); err != nil {
			l.fail(err)
			return
		}
	}
	if err := l.bindTables(vk.PipelineBindPointGraphics); err != nil {
		l.fail(err)
		return
	}
	vk.CmdDrawIndexed(l.handle, indexCount, instanceCount, startIndex, baseVertex, startInstance)
}

func (l *commandList) Dispatch(x, y, z uint32) {
	if !l.ready() {
		return
	}
	if l.pipeline == nil || !l.pipeline.IsCompute() || l.rootSig == nil {
		l.fail(errors.Wrap(gpu.ErrInvalidState, "dispatch without a compute pipeline and root signature"))
		return
	}
	l.endPass()
	if err := l.bindTables(vk.PipelineBindPointCompute); err != nil {
		l.fail(err)
		return
	}
	vk.CmdDispatch(l.handle, x, y, z)
}

// BeginQuery resets the query first. Both ends sit outside render passes, so
// a query may span several of them.
func (l *commandList) BeginQuery(heap gpu.QueryHeap, index uint32) {
	if !l.ready() {
		return
	}
	h, ok := heap.(*queryHeap)
	if !ok || index >= h.desc.Count {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "query index out of range"))
		return
	}
	l.endPass()
	vk.CmdResetQueryPool(l.handle, h.pool, index, 1)
	var flags vk.QueryControlFlagBits
	if h.desc.Type == gpu.QueryOcclusion && l.dev.adapter.features.OcclusionQueryPrecise == vk.True {
		flags = vk.QueryControlPreciseBit
	}
	vk.CmdBeginQuery(l.handle, h.pool, index, vk.QueryControlFlags(flags))
}

func (l *commandList) EndQuery(heap gpu.QueryHeap, index uint32) {
	if !l.ready() {
		return
	}
	h, ok := heap.(*queryHeap)
	if !ok || index >= h.desc.Count {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "query index out of range"))
		return
	}
	l.endPass()
	vk.CmdEndQuery(l.handle, h.pool, index)
}

func (l *commandList) ResolveQueryData(heap gpu.QueryHeap, start, count uint32, dst gpu.Buffer, dstOffset uint64) {
	if !l.ready() {
		return
	}
	h, hok := heap.(*queryHeap)
	b, bok := dst.(*buffer)
	if !hok || !bok || start+count > h.desc.Count || dstOffset+uint64(count)*8 > b.desc.Size {
		l.fail(errors.Wrap(gpu.ErrInvalidArgument, "query resolve out of range"))
		return
	}
	l.endPass()
	flags := vk.QueryResultFlags(vk.QueryResult64Bit | vk.QueryResultWaitBit)
	vk.CmdCopyQueryPoolResults(l.handle, h.pool, start, count, b.handle, vk.DeviceSize(dstOffset), 8, flags)
	l.hostBarrier(b)
}

// Release is a no-op. Command buffers belong to their allocator.
func (l *commandList) Release() {}
