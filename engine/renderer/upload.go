package renderer

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/modelviewer/engine/containers"
	"github.com/spaghettifunk/modelviewer/engine/core"
	"github.com/spaghettifunk/modelviewer/engine/renderer/gpu"
)

type BufferDesc struct {
	Name         string
	ElementCount uint32
	ElementSize  uint32
	// Data may be nil, the buffer is then left zeroed.
	Data       []byte
	Flags      gpu.ResourceFlags
	FinalState gpu.ResourceState
}

type TextureDesc struct {
	Name   string
	Width  uint32
	Height uint32
	Depth  uint16
	Format gpu.Format
	// Pixels are tightly packed rows. They are pitched during the upload.
	Pixels     []byte
	Flags      gpu.ResourceFlags
	FinalState gpu.ResourceState
}

type uploadRequest struct {
	res   *Resource
	data  []byte
	final gpu.ResourceState
}

// UploadBatch records the copies of many resources into one command list
// and waits for all of them with a single flush.
type UploadBatch struct {
	c       *Context
	ctx     context.Context
	pending *containers.RingQueue[uploadRequest]
}

func (c *Context) NewUploadBatch(ctx context.Context) *UploadBatch {
	return &UploadBatch{
		c:       c,
		ctx:     ctx,
		pending: containers.NewRingQueue[uploadRequest](c.cfg.UploadBatchSize),
	}
}

func (b *UploadBatch) Len() int {
	return b.pending.Len()
}

func (b *UploadBatch) enqueue(req uploadRequest) error {
	if b.pending.IsFull() {
		if err := b.Submit(); err != nil {
			return err
		}
	}
	return b.pending.Enqueue(req)
}

// AddBuffer allocates a device local buffer in COPY_DEST and queues its data.
// The returned resource is usable once Submit returned.
func (b *UploadBatch) AddBuffer(desc BufferDesc) (*Resource, error) {
	info := BufferInfo{ElementCount: desc.ElementCount, ElementSize: desc.ElementSize}
	size := info.SizeInBytes()
	if size == 0 {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer %q is empty", desc.Name)
	}
	if desc.Data != nil && uint64(len(desc.Data)) != size {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "buffer %q holds %d bytes, data has %d", desc.Name, size, len(desc.Data))
	}
	buf, err := b.c.device.CreateBuffer(gpu.BufferDesc{
		Size:         size,
		Heap:         gpu.HeapDefault,
		Flags:        desc.Flags,
		InitialState: gpu.StateCopyDest,
		Name:         desc.Name,
	})
	if err != nil {
		core.LogError("failed to allocate buffer %q (%d bytes): %v", desc.Name, size, err)
		return nil, errors.Wrapf(err, "allocating buffer %q", desc.Name)
	}
	res := newBufferResource(buf, info, gpu.StateCopyDest, desc.Name)
	if err := b.enqueue(uploadRequest{res: res, data: desc.Data, final: desc.FinalState}); err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

// AddTexture allocates a device local texture in COPY_DEST and queues its pixels.
func (b *UploadBatch) AddTexture(desc TextureDesc) (*Resource, error) {
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	expected := uint64(desc.Width) * uint64(desc.Height) * uint64(desc.Depth) * uint64(desc.Format.BytesPerPixel())
	if desc.Pixels != nil && uint64(len(desc.Pixels)) != expected {
		return nil, errors.Wrapf(gpu.ErrInvalidArgument, "texture %q expects %d bytes of pixels, got %d", desc.Name, expected, len(desc.Pixels))
	}
	tex, err := b.c.device.CreateTexture(gpu.TextureDesc{
		Width:        desc.Width,
		Height:       desc.Height,
		Depth:        desc.Depth,
		MipLevels:    1,
		Format:       desc.Format,
		Flags:        desc.Flags,
		InitialState: gpu.StateCopyDest,
		Name:         desc.Name,
	})
	if err != nil {
		core.LogError("failed to allocate texture %q (%dx%d): %v", desc.Name, desc.Width, desc.Height, err)
		return nil, errors.Wrapf(err, "allocating texture %q", desc.Name)
	}
	res := newTextureResource(tex, gpu.StateCopyDest, desc.Name)
	if err := b.enqueue(uploadRequest{res: res, data: desc.Pixels, final: desc.FinalState}); err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

// Submit records every queued upload into one list, submits it to the
// graphics queue and flushes. Staging memory is released afterwards.
func (b *UploadBatch) Submit() error {
	if b.pending.IsEmpty() {
		return nil
	}
	c := b.c
	list, err := c.upload.Begin(0)
	if err != nil {
		return err
	}

	var staging []gpu.Buffer
	defer func() {
		for _, s := range staging {
			s.Release()
		}
	}()

	for !b.pending.IsEmpty() {
		req, _ := b.pending.Dequeue()
		if req.data != nil {
			s, err := b.recordCopy(list, req)
			if err != nil {
				c.upload.Abort()
				b.drain()
				return err
			}
			staging = append(staging, s)
		}
		// A zero final state keeps the resource in COPY_DEST.
		if req.final != gpu.StateCommon {
			req.res.Transition(list, req.final)
		}
	}

	if err := c.upload.Close(); err != nil {
		return err
	}
	return c.submitUpload(b.ctx)
}

// submitUpload executes the closed upload list and flushes. Slot 0 is retired
// with its own signal before the wait, so a cancelled or timed out wait does
// not strand it.
func (c *Context) submitUpload(ctx context.Context) error {
	if err := c.upload.Submit(); err != nil {
		return c.checkDevice(err)
	}
	value, err := c.Signal(c.queues[gpu.QueueGraphics])
	if err != nil {
		return err
	}
	c.upload.Retire(0, value)
	return c.Flush(ctx)
}

func (b *UploadBatch) drain() {
	for !b.pending.IsEmpty() {
		_, _ = b.pending.Dequeue()
	}
}

func (b *UploadBatch) recordCopy(list gpu.CommandList, req uploadRequest) (gpu.Buffer, error) {
	res := req.res
	var size uint64
	var fp gpu.Footprint
	if res.Kind == ResourceKindTexture {
		fp = b.c.device.Footprint(res.GPUTexture().Desc())
		size = fp.TotalBytes
	} else {
		size = uint64(len(req.data))
	}

	staging, err := b.c.device.CreateBuffer(gpu.BufferDesc{
		Size:         size,
		Heap:         gpu.HeapUpload,
		InitialState: gpu.StateGenericRead,
		Name:         res.Name + " (staging)",
	})
	if err != nil {
		core.LogError("failed to allocate staging memory for %q (%d bytes): %v", res.Name, size, err)
		return nil, errors.Wrapf(err, "allocating staging memory for %q", res.Name)
	}
	mem, err := staging.Map()
	if err != nil {
		staging.Release()
		return nil, errors.Wrapf(err, "mapping staging memory for %q", res.Name)
	}

	if res.Kind == ResourceKindTexture {
		row := fp.RowSize
		for r := uint64(0); r < uint64(fp.NumRows); r++ {
			dst := r * uint64(fp.RowPitch)
			copy(mem[dst:dst+row], req.data[r*row:(r+1)*row])
		}
		staging.Unmap()
		list.CopyBufferToTexture(res.GPUTexture(), staging, fp)
	} else {
		copy(mem, req.data)
		staging.Unmap()
		list.CopyBufferRegion(res.GPUBuffer(), 0, staging, 0, size)
	}
	return staging, nil
}

// CreateBuffer uploads one buffer synchronously.
func (c *Context) CreateBuffer(ctx context.Context, desc BufferDesc) (*Resource, error) {
	batch := c.NewUploadBatch(ctx)
	res, err := batch.AddBuffer(desc)
	if err != nil {
		return nil, err
	}
	if err := batch.Submit(); err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

// CreateTexture uploads one texture synchronously.
func (c *Context) CreateTexture(ctx context.Context, desc TextureDesc) (*Resource, error) {
	batch := c.NewUploadBatch(ctx)
	res, err := batch.AddTexture(desc)
	if err != nil {
		return nil, err
	}
	if err := batch.Submit(); err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

// Readback copies res into CPU memory and returns its bytes. Texture rows are
// returned tightly packed. The resource ends in the state it started in.
func (c *Context) Readback(ctx context.Context, res *Resource) ([]byte, error) {
	if err := res.mustBeValid(); err != nil {
		return nil, err
	}
	var size uint64
	var fp gpu.Footprint
	if res.Kind == ResourceKindTexture {
		fp = c.device.Footprint(res.GPUTexture().Desc())
		size = fp.TotalBytes
	} else {
		size = res.Buffer.SizeInBytes()
	}
	readback, err := c.device.CreateBuffer(gpu.BufferDesc{
		Size:         size,
		Heap:         gpu.HeapReadback,
		InitialState: gpu.StateCopyDest,
		Name:         res.Name + " (readback)",
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocating readback memory for %q", res.Name)
	}
	defer readback.Release()

	list, err := c.upload.Begin(0)
	if err != nil {
		return nil, err
	}
	previous := res.State
	res.Transition(list, gpu.StateCopySource)
	if res.Kind == ResourceKindTexture {
		list.CopyTextureToBuffer(readback, fp, res.GPUTexture())
	} else {
		list.CopyBufferRegion(readback, 0, res.GPUBuffer(), 0, size)
	}
	res.Transition(list, previous)
	if err := c.upload.Close(); err != nil {
		return nil, err
	}
	if err := c.submitUpload(ctx); err != nil {
		return nil, err
	}

	mem, err := readback.Map()
	if err != nil {
		return nil, errors.Wrapf(err, "mapping readback memory for %q", res.Name)
	}
	defer readback.Unmap()
	if res.Kind != ResourceKindTexture {
		return append([]byte(nil), mem[:size]...), nil
	}
	out := make([]byte, 0, fp.RowSize*uint64(fp.NumRows))
	for r := uint64(0); r < uint64(fp.NumRows); r++ {
		src := r * uint64(fp.RowPitch)
		out = append(out, mem[src:src+fp.RowSize]...)
	}
	return out, nil
}
